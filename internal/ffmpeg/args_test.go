package ffmpeg

import (
	"slices"
	"strings"
	"testing"
)

// argValue returns the value following flag, or "" if flag is absent.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgsSoftwareContract(t *testing.T) {
	args := BuildArgs(VariantSoftware, "/videos/loop.mp4", "rtmp://host/live2/KEY", "")

	checks := map[string]string{
		"-stream_loop":  "-1",
		"-i":            "/videos/loop.mp4",
		"-c:v":          "libx264",
		"-preset":       "ultrafast",
		"-tune":         "zerolatency",
		"-keyint_min":   "60",
		"-sc_threshold": "0",
		"-b:v":          "3000k",
		"-maxrate":      "3000k",
		"-bufsize":      "6000k",
		"-pix_fmt":      "yuv420p",
		"-profile:v":    "main",
		"-r":            "30",
		"-g":            "60",
		"-c:a":          "aac",
		"-b:a":          "128k",
		"-ar":           "44100",
		"-ac":           "2",
		"-f":            "flv",
		"-flvflags":     "no_duration_filesize",
		"-loglevel":     "level+warning",
	}
	for flag, want := range checks {
		if got := argValue(args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}

	if args[0] != "-re" {
		t.Errorf("expected -re first, got %q", args[0])
	}
	if !slices.Contains(args, "rtmp://host/live2/KEY") {
		t.Error("output URL missing")
	}
	if args[len(args)-1] != "-stats" {
		t.Errorf("expected -stats last, got %q", args[len(args)-1])
	}
}

func TestBuildArgsHardwareVariants(t *testing.T) {
	tests := []struct {
		variant Variant
		extra   map[string]string
	}{
		{VariantNVENC, map[string]string{"-preset": "p4", "-tune": "ll", "-rc": "cbr", "-bf": "0"}},
		{VariantQSV, map[string]string{"-preset": "faster"}},
		{VariantVideoToolbox, map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.variant.Encoder, func(t *testing.T) {
			args := BuildArgs(tt.variant, "in.mp4", "rtmp://x/k", "")
			if got := argValue(args, "-c:v"); got != tt.variant.Encoder {
				t.Errorf("-c:v = %q", got)
			}
			for flag, want := range map[string]string{
				"-b:v": "4500k", "-maxrate": "4500k", "-bufsize": "9000k",
				"-profile:v": "high", "-pix_fmt": "yuv420p",
			} {
				if got := argValue(args, flag); got != want {
					t.Errorf("%s = %q, want %q", flag, got, want)
				}
			}
			for flag, want := range tt.extra {
				if got := argValue(args, flag); got != want {
					t.Errorf("%s = %q, want %q", flag, got, want)
				}
			}
			if tt.variant.Accel != AccelNVENC && slices.Contains(args, "-rc") {
				t.Error("only nvenc should set -rc")
			}
		})
	}
}

func TestBuildArgsVAAPIDeviceBeforeInput(t *testing.T) {
	args := BuildArgs(VariantVAAPI, "in.mp4", "rtmp://x/k", "/dev/dri/renderD128")
	joined := strings.Join(args, " ")

	dev := strings.Index(joined, "-vaapi_device /dev/dri/renderD128")
	input := strings.Index(joined, "-i in.mp4")
	if dev < 0 || input < 0 || dev > input {
		t.Errorf("vaapi device must precede input: %s", joined)
	}
	if argValue(args, "-vf") != "format=nv12,hwupload" {
		t.Errorf("-vf = %q", argValue(args, "-vf"))
	}
}
