package encodernode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/vo"
)

func TestResolveEncoder(t *testing.T) {
	tests := []struct {
		name    string
		profile vo.EncodeProfile
		want    string
	}{
		{"explicit wins", vo.EncodeProfile{Codec: "h264", Encoder: "h264_amf"}, "h264_amf"},
		{"software h264", vo.EncodeProfile{Codec: "h264"}, "libx264"},
		{"h265 alias", vo.EncodeProfile{Codec: "H265"}, "libx265"},
		{"cuda hevc", vo.EncodeProfile{Codec: "hevc", HWAccel: "cuda"}, "hevc_nvenc"},
		{"none means software", vo.EncodeProfile{Codec: "av1", HWAccel: "none"}, "libsvtav1"},
		{"unknown hwaccel falls back", vo.EncodeProfile{Codec: "vp9", HWAccel: "cuda"}, "libvpx-vp9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveEncoder(tt.profile))
		})
	}
}

func TestBuildArgs_Software(t *testing.T) {
	args := BuildArgs(vo.EncodeProfile{Codec: "h264", Preset: "slow", CRF: 20}, "/in/a.mkv", "/out/a.mp4")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i /in/a.mkv -progress pipe:2 -nostats")
	assert.Contains(t, joined, "-c:v libx264 -preset slow -crf 20")
	assert.Contains(t, joined, "-c:a aac -b:a 128k")
	assert.Contains(t, joined, "-movflags +faststart")
	assert.NotContains(t, joined, "-hwaccel")
	assert.Equal(t, []string{"-y", "/out/a.mp4"}, args[len(args)-2:])
}

func TestBuildArgs_NvencUsesCQ(t *testing.T) {
	args := BuildArgs(vo.EncodeProfile{Codec: "hevc", HWAccel: "cuda", CRF: 24, AudioCodec: "copy", Container: "mkv", ExtraArgs: []string{"-tag:v", "hvc1"}}, "in.ts", "out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-hwaccel cuda -hwaccel_output_format cuda")
	assert.Contains(t, joined, "-c:v hevc_nvenc")
	assert.Contains(t, joined, "-cq 24")
	assert.NotContains(t, joined, "-crf")
	assert.Contains(t, joined, "-c:a copy")
	assert.NotContains(t, joined, "faststart")
	assert.Contains(t, joined, "-tag:v hvc1 -y out.mkv")
}

func TestScanProgress(t *testing.T) {
	stderr := strings.Join([]string{
		"Input #0, matroska,webm, from 'in.mkv':",
		"frame=120",
		"fps=48.0",
		"out_time_ms=50000000",
		"speed=2.5x",
		"progress=continue",
		"[aac @ 0x1] something odd",
		"out_time_ms=200000000",
		"progress=end",
	}, "\n")

	var got []Progress
	var tail []string
	scanProgress(strings.NewReader(stderr), 100, &tail, func(p Progress) { got = append(got, p) })

	require.Len(t, got, 2)
	assert.InDelta(t, 50, got[0].Percent, 0.001)
	assert.InDelta(t, 48, got[0].FPS, 0.001)
	assert.InDelta(t, 2.5, got[0].Speed, 0.001)
	assert.Equal(t, int64(20), got[0].ETASeconds)
	assert.InDelta(t, 99, got[1].Percent, 0.001, "progress is capped until the process exits")
	assert.Equal(t, int64(0), got[1].ETASeconds)

	assert.Equal(t, []string{"Input #0, matroska,webm, from 'in.mkv':", "[aac @ 0x1] something odd"}, tail)
}

func TestScanProgress_LegacyTimeLine(t *testing.T) {
	var got []Progress
	scanProgress(strings.NewReader("frame=  10 fps=0.0 q=28.0 size=0kB time=00:00:30.00 bitrate=0.0kbits/s"), 60, nil, func(p Progress) { got = append(got, p) })

	require.Len(t, got, 1)
	assert.InDelta(t, 50, got[0].Percent, 0.001)
}

func TestParseEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D hevc_qsv             HEVC (Intel Quick Sync Video acceleration) (codec hevc)
 V....D png                  PNG (Portable Network Graphics) image
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
 S..... srt                  SubRip subtitle
`
	video, audio := parseEncoders(out)

	assert.Equal(t, vo.CodecEncoders{Software: []string{"libx264"}, Hardware: []string{"h264_nvenc"}}, video["h264"])
	assert.Equal(t, vo.CodecEncoders{Software: []string{"libx265"}, Hardware: []string{"hevc_qsv"}}, video["hevc"])
	assert.Len(t, video, 2)
	assert.Equal(t, []string{"aac", "libopus"}, audio)
}

func TestParseHWAccels(t *testing.T) {
	out := "Hardware acceleration methods:\nvdpau\ncuda\nvaapi\n\n"
	assert.Equal(t, []string{"vdpau", "cuda", "vaapi"}, parseHWAccels(out))
}
