// Command worker 独立步骤工作器，与调度服务共享 MySQL 存储
package main

import "acquisition-service/app"

func main() {
	app.RunWorker()
}
