package main

import "acquisition-service/app"

func main() {
	app.Run()
}
