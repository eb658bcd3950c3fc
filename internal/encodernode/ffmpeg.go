package encodernode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// Progress 一次编码进度快照
type Progress struct {
	Percent    float64
	FPS        float64
	Speed      float64
	ETASeconds int64
}

// Task 节点收到的编码分配
type Task struct {
	AssignmentID string
	JobID        string
	InputPath    string
	OutputPath   string
	Profile      vo.EncodeProfile
}

// Encoder 执行单个编码分配
type Encoder interface {
	Encode(ctx context.Context, task Task, onProgress func(Progress)) (map[string]interface{}, error)
}

// FFmpeg 调用本机 ffmpeg/ffprobe 完成编码
type FFmpeg struct {
	binary  string
	ffprobe string
}

func NewFFmpeg(binary, ffprobe string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpeg{binary: binary, ffprobe: ffprobe}
}

// Encode 运行 ffmpeg 并返回输出文件信息
func (f *FFmpeg) Encode(ctx context.Context, task Task, onProgress func(Progress)) (map[string]interface{}, error) {
	if task.InputPath == "" || task.OutputPath == "" {
		return nil, errors.New("input and output path are required")
	}
	if err := os.MkdirAll(filepath.Dir(task.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	duration := f.inputDurationSeconds(ctx, task.InputPath)
	args := BuildArgs(task.Profile, task.InputPath, task.OutputPath)
	logger.Infof("ffmpeg command assignment_id=%s command=%s %s", task.AssignmentID, f.binary, strings.Join(args, " "))

	started := time.Now()
	cmd := exec.CommandContext(ctx, f.binary, args...)
	if err := f.run(ctx, cmd, duration, onProgress); err != nil {
		_ = os.Remove(task.OutputPath)
		return nil, err
	}

	meta := map[string]interface{}{
		"encoder":         ResolveEncoder(task.Profile),
		"durationSeconds": duration,
		"elapsedSeconds":  time.Since(started).Seconds(),
	}
	if info, err := os.Stat(task.OutputPath); err == nil {
		meta["size"] = info.Size()
	}
	return meta, nil
}

func (f *FFmpeg) run(ctx context.Context, cmd *exec.Cmd, durationSec float64, onProgress func(Progress)) error {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("创建FFmpeg stderr管道失败: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("启动FFmpeg命令失败: %w", err)
	}

	progressDone := make(chan struct{})
	tail := make([]string, 0, 200)
	go func() {
		defer close(progressDone)
		scanProgress(stderr, durationSec, &tail, onProgress)
	}()

	done := make(chan error, 1)
	go func() {
		<-progressDone
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		if n := len(tail); n > 20 {
			tail = tail[n-20:]
		}
		if len(tail) > 0 {
			logger.Errorf("ffmpeg failed tail_stderr=%s", strings.Join(tail, "\n"))
			return fmt.Errorf("ffmpeg: %w: %s", err, tail[len(tail)-1])
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
}

var reTime = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// progressParser 解析 -progress pipe:2 输出的 key=value 块
type progressParser struct {
	durationSec float64
	outSec      float64
	fps         float64
	speed       float64
}

// feed 读到 progress= 行或旧式 time= 行时返回一次快照
func (p *progressParser) feed(line string) (Progress, bool, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	value = strings.TrimSpace(value)
	// 旧式统计行是一整行多个 key=value，交给下面的正则
	if ok && !strings.Contains(key, " ") && !strings.Contains(value, " ") {
		switch key {
		case "out_time_ms", "out_time_us":
			if us, err := strconv.ParseFloat(value, 64); err == nil {
				p.outSec = us / 1e6
			}
			return Progress{}, false, true
		case "fps":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				p.fps = v
			}
			return Progress{}, false, true
		case "speed":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
				p.speed = v
			}
			return Progress{}, false, true
		case "progress":
			return p.snapshot(), true, true
		case "frame", "bitrate", "total_size", "out_time", "dup_frames", "drop_frames", "stream_0_0_q":
			return Progress{}, false, true
		}
	}

	if m := reTime.FindStringSubmatch(line); len(m) == 4 {
		hh, _ := strconv.ParseFloat(m[1], 64)
		mm, _ := strconv.ParseFloat(m[2], 64)
		ss, _ := strconv.ParseFloat(m[3], 64)
		p.outSec = hh*3600 + mm*60 + ss
		return p.snapshot(), true, true
	}
	return Progress{}, false, false
}

func (p *progressParser) snapshot() Progress {
	out := Progress{FPS: p.fps, Speed: p.speed}
	if p.durationSec <= 0 {
		return out
	}
	pct := p.outSec / p.durationSec * 100
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	out.Percent = pct
	if p.speed > 0 {
		remaining := (p.durationSec - p.outSec) / p.speed
		if remaining > 0 {
			out.ETASeconds = int64(remaining)
		}
	}
	return out
}

func scanProgress(stderr io.Reader, durationSec float64, capture *[]string, onProgress func(Progress)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)
	parser := &progressParser{durationSec: durationSec}

	for scanner.Scan() {
		line := scanner.Text()
		snap, emit, consumed := parser.feed(line)
		if emit && onProgress != nil {
			onProgress(snap)
		}
		if consumed || capture == nil {
			continue
		}
		b := *capture
		if len(b) >= 200 {
			b = b[1:]
		}
		*capture = append(b, line)
	}
}

// inputDurationSeconds 调用 ffprobe 获取输入时长（秒），失败则返回 0。
func (f *FFmpeg) inputDurationSeconds(ctx context.Context, inputPath string) float64 {
	cmd := exec.CommandContext(ctx, f.ffprobe, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", inputPath)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return val
}

var defaultEncoders = map[string]map[string]string{
	"h264": {"": "libx264", "cuda": "h264_nvenc", "qsv": "h264_qsv", "vaapi": "h264_vaapi", "videotoolbox": "h264_videotoolbox"},
	"hevc": {"": "libx265", "cuda": "hevc_nvenc", "qsv": "hevc_qsv", "vaapi": "hevc_vaapi", "videotoolbox": "hevc_videotoolbox"},
	"av1":  {"": "libsvtav1", "cuda": "av1_nvenc", "qsv": "av1_qsv", "vaapi": "av1_vaapi"},
	"vp9":  {"": "libvpx-vp9", "qsv": "vp9_qsv", "vaapi": "vp9_vaapi"},
}

func normalizeCodec(codec string) string {
	switch c := strings.ToLower(strings.TrimSpace(codec)); c {
	case "h265", "x265", "hevc":
		return "hevc"
	case "x264", "avc", "h264":
		return "h264"
	default:
		return c
	}
}

func normalizeHWAccel(hw string) string {
	hw = strings.ToLower(strings.TrimSpace(hw))
	if hw == "none" {
		return ""
	}
	return hw
}

// ResolveEncoder 未显式指定编码器时按 codec + hwaccel 选择
func ResolveEncoder(p vo.EncodeProfile) string {
	if p.Encoder != "" {
		return p.Encoder
	}
	codec := normalizeCodec(p.Codec)
	hw := normalizeHWAccel(p.HWAccel)
	if byHW, ok := defaultEncoders[codec]; ok {
		if enc, ok := byHW[hw]; ok {
			return enc
		}
		return byHW[""]
	}
	return codec
}

// BuildArgs 根据编码参数生成 ffmpeg 参数
func BuildArgs(p vo.EncodeProfile, inputPath, outputPath string) []string {
	encoder := ResolveEncoder(p)
	hw := normalizeHWAccel(p.HWAccel)
	isNvenc := strings.Contains(strings.ToLower(encoder), "nvenc")

	args := make([]string, 0, 24)
	args = append(args, "-hide_banner")
	if hw != "" {
		args = append(args, "-hwaccel", hw)
		if hw == "cuda" && isNvenc {
			args = append(args, "-hwaccel_output_format", "cuda")
		}
	}
	args = append(args,
		"-probesize", "5M",
		"-analyzeduration", "5M",
		"-i", inputPath,
		"-progress", "pipe:2",
		"-nostats",
		"-c:v", encoder,
	)
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.CRF > 0 {
		// nvenc 不支持 -crf
		if isNvenc {
			args = append(args, "-rc", "vbr", "-cq", strconv.Itoa(p.CRF))
		} else {
			args = append(args, "-crf", strconv.Itoa(p.CRF))
		}
	}

	switch audio := strings.ToLower(strings.TrimSpace(p.AudioCodec)); audio {
	case "", "aac":
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	case "copy":
		args = append(args, "-c:a", "copy")
	default:
		args = append(args, "-c:a", audio)
	}

	container := strings.ToLower(strings.TrimSpace(p.Container))
	if container == "" {
		container = strings.TrimPrefix(strings.ToLower(filepath.Ext(outputPath)), ".")
	}
	if container == "mp4" || container == "mov" || container == "m4v" {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, p.ExtraArgs...)
	args = append(args, "-y", outputPath)
	return args
}
