package encodernode

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"acquisition-service/ddd/domain/vo"
)

var hardwareSuffixes = []string{"_nvenc", "_qsv", "_vaapi", "_amf", "_videotoolbox", "_v4l2m2m", "_mf", "_vulkan"}

// DetectCapabilities 通过 ffmpeg -encoders / -hwaccels 探测本机能力
func (f *FFmpeg) DetectCapabilities(ctx context.Context) (vo.Capabilities, error) {
	encOut, err := exec.CommandContext(ctx, f.binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return vo.Capabilities{}, fmt.Errorf("list ffmpeg encoders: %w", err)
	}
	video, audio := parseEncoders(string(encOut))

	var hwaccels []string
	if hwOut, err := exec.CommandContext(ctx, f.binary, "-hide_banner", "-hwaccels").Output(); err == nil {
		hwaccels = parseHWAccels(string(hwOut))
	}

	return vo.Capabilities{
		VideoEncoders: video,
		HWAccels:      hwaccels,
		AudioEncoders: audio,
		System: vo.SystemInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
			CPU:  fmt.Sprintf("%d cores", runtime.NumCPU()),
		},
	}, nil
}

// parseEncoders 解析形如 " V....D libx264  libx264 H.264 ..." 的行
func parseEncoders(out string) (map[string]vo.CodecEncoders, []string) {
	video := make(map[string]vo.CodecEncoders)
	var audio []string

	scanner := bufio.NewScanner(strings.NewReader(out))
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			// 表头以 " ------" 结束
			if strings.HasPrefix(line, "------") {
				started = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) < 1 {
			continue
		}
		name := fields[1]
		switch fields[0][0] {
		case 'V':
			codec := codecOf(name)
			if codec == "" {
				continue
			}
			entry := video[codec]
			if isHardware(name) {
				entry.Hardware = append(entry.Hardware, name)
			} else {
				entry.Software = append(entry.Software, name)
			}
			video[codec] = entry
		case 'A':
			audio = append(audio, name)
		}
	}
	return video, audio
}

func codecOf(encoder string) string {
	e := strings.ToLower(encoder)
	switch {
	case strings.Contains(e, "264"):
		return "h264"
	case strings.Contains(e, "265") || strings.Contains(e, "hevc"):
		return "hevc"
	case strings.Contains(e, "av1"):
		return "av1"
	case strings.Contains(e, "vp9"):
		return "vp9"
	default:
		return ""
	}
}

func isHardware(encoder string) bool {
	e := strings.ToLower(encoder)
	for _, s := range hardwareSuffixes {
		if strings.HasSuffix(e, s) {
			return true
		}
	}
	return false
}

func parseHWAccels(out string) []string {
	var list []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !started {
			if strings.HasPrefix(line, "Hardware acceleration methods") {
				started = true
			}
			continue
		}
		list = append(list, line)
	}
	return list
}
