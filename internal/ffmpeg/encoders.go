package ffmpeg

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Accel identifies the hardware family behind an encoder variant
type Accel string

const (
	AccelNone         Accel = "none"         // Software encoding
	AccelNVENC        Accel = "nvenc"        // NVIDIA GPU
	AccelQSV          Accel = "qsv"          // Intel Quick Sync
	AccelVideoToolbox Accel = "videotoolbox" // Apple Silicon / Intel Mac
	AccelVAAPI        Accel = "vaapi"        // Linux VA-API (Intel/AMD)
)

// Variant is one H.264 encoder configuration the launcher can try.
type Variant struct {
	Accel   Accel  `json:"accel"`
	Encoder string `json:"encoder"` // FFmpeg encoder name (e.g., h264_nvenc)
	Name    string `json:"name"`
}

// Hardware reports whether the variant needs a GPU or media engine.
func (v Variant) Hardware() bool {
	return v.Accel != AccelNone
}

var (
	VariantNVENC        = Variant{Accel: AccelNVENC, Encoder: "h264_nvenc", Name: "NVENC H.264"}
	VariantQSV          = Variant{Accel: AccelQSV, Encoder: "h264_qsv", Name: "Quick Sync H.264"}
	VariantVideoToolbox = Variant{Accel: AccelVideoToolbox, Encoder: "h264_videotoolbox", Name: "VideoToolbox H.264"}
	VariantVAAPI        = Variant{Accel: AccelVAAPI, Encoder: "h264_vaapi", Name: "VAAPI H.264"}
	VariantSoftware     = Variant{Accel: AccelNone, Encoder: "libx264", Name: "Software H.264"}
)

// platformOrder is the fixed try-order per OS. Software is always last.
func platformOrder(goos string) []Variant {
	switch goos {
	case "windows":
		return []Variant{VariantNVENC, VariantQSV, VariantSoftware}
	case "darwin":
		return []Variant{VariantVideoToolbox, VariantSoftware}
	default:
		return []Variant{VariantNVENC, VariantVAAPI, VariantSoftware}
	}
}

// Candidates returns the variants to try, in order, for goos.
// available is the result of DetectEncoders; nil means detection did not
// run. Without detection Linux gets software only, while Windows and macOS
// try their hardware tiers blind and rely on spawn fallback.
func Candidates(goos string, available map[string]bool) []Variant {
	var out []Variant
	for _, v := range platformOrder(goos) {
		if !v.Hardware() {
			out = append(out, v)
			continue
		}
		if available == nil {
			if goos == "windows" || goos == "darwin" {
				out = append(out, v)
			}
			continue
		}
		if available[v.Encoder] {
			out = append(out, v)
		}
	}
	return out
}

// HostCandidates is Candidates for the running OS.
func HostCandidates(available map[string]bool) []Variant {
	return Candidates(runtime.GOOS, available)
}

// detection cache, keyed by ffmpeg path
var (
	detectMu    sync.Mutex
	detectCache = map[string]map[string]bool{}
)

// DetectEncoders probes FFmpeg for usable H.264 encoders. Hardware
// encoders must both be listed by `ffmpeg -encoders` and survive a one
// frame test encode. Results are cached per binary path.
func DetectEncoders(ffmpegPath string) map[string]bool {
	detectMu.Lock()
	defer detectMu.Unlock()

	if cached, ok := detectCache[ffmpegPath]; ok {
		return copyAvailability(cached)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := map[string]bool{VariantSoftware.Encoder: true}

	output, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		// Fallback to software only
		detectCache[ffmpegPath] = result
		return copyAvailability(result)
	}

	listed := ParseEncoderList(string(output))
	for _, v := range []Variant{VariantNVENC, VariantQSV, VariantVideoToolbox, VariantVAAPI} {
		if !listed[v.Encoder] {
			continue
		}
		result[v.Encoder] = testEncoder(ffmpegPath, v)
	}
	result[VariantSoftware.Encoder] = listed[VariantSoftware.Encoder] || len(listed) == 0

	detectCache[ffmpegPath] = result
	return copyAvailability(result)
}

// ResetDetection clears the detection cache.
func ResetDetection() {
	detectMu.Lock()
	detectCache = map[string]map[string]bool{}
	detectMu.Unlock()
}

// ParseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Rows look like " V....D libx264  libx264 H.264 / AVC ...".
func ParseEncoderList(output string) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	pastHeader := false
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if !pastHeader {
			if strings.HasPrefix(fields[0], "---") {
				pastHeader = true
			}
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// detectVAAPIDevice finds the first available VAAPI render device
func detectVAAPIDevice() string {
	driPath := "/dev/dri"
	entries, err := os.ReadDir(driPath)
	if err != nil {
		return ""
	}

	var devices []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			devices = append(devices, filepath.Join(driPath, entry.Name()))
		}
	}
	sort.Strings(devices)

	if len(devices) > 0 {
		return devices[0]
	}
	return ""
}

// testEncoder encodes a single test-pattern frame to verify the hardware
// encoder actually works on this machine.
func testEncoder(ffmpegPath string, v Variant) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 256x256: QSV has a minimum resolution
	source := []string{"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1"}
	sink := []string{"-frames:v", "1", "-c:v", v.Encoder, "-f", "null", "-"}

	var args []string
	switch v.Accel {
	case AccelVAAPI:
		device := detectVAAPIDevice()
		if device == "" {
			return false
		}
		args = append([]string{"-vaapi_device", device}, source...)
		args = append(args, "-vf", "format=nv12,hwupload")
	default:
		args = append(args, source...)
	}
	args = append(args, sink...)

	return exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
}

func copyAvailability(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
