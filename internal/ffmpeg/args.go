package ffmpeg

// Output contract shared by every variant.
const (
	frameRate = "30"
	gopSize   = "60"

	hardwareBitrate = "4500k"
	hardwareBufsize = "9000k"
	softwareBitrate = "3000k"
	softwareBufsize = "6000k"
)

// BuildArgs returns the ffmpeg argument list that loops sourcePath forever
// at native rate and pushes FLV to outputURL with the given variant.
// vaapiDevice is only used by the vaapi variant.
func BuildArgs(v Variant, sourcePath, outputURL, vaapiDevice string) []string {
	var args []string

	if v.Accel == AccelVAAPI {
		args = append(args, "-vaapi_device", vaapiDevice)
	}
	args = append(args,
		"-re",
		"-stream_loop", "-1",
		"-i", sourcePath,
	)
	if v.Accel == AccelVAAPI {
		args = append(args, "-vf", "format=nv12,hwupload")
	}

	args = append(args, "-c:v", v.Encoder)
	args = append(args, videoArgs(v)...)
	args = append(args,
		"-r", frameRate,
		"-g", gopSize,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
		"-f", "flv",
		"-flvflags", "no_duration_filesize",
		outputURL,
		"-loglevel", "level+warning",
		"-stats",
	)
	return args
}

func videoArgs(v Variant) []string {
	if !v.Hardware() {
		return []string{
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-keyint_min", gopSize,
			"-sc_threshold", "0",
			"-b:v", softwareBitrate,
			"-maxrate", softwareBitrate,
			"-bufsize", softwareBufsize,
			"-pix_fmt", "yuv420p",
			"-profile:v", "main",
		}
	}

	var extra []string
	switch v.Accel {
	case AccelNVENC:
		extra = []string{"-preset", "p4", "-tune", "ll", "-rc", "cbr", "-bf", "0"}
	case AccelQSV:
		extra = []string{"-preset", "faster"}
	}

	args := append(extra,
		"-b:v", hardwareBitrate,
		"-maxrate", hardwareBitrate,
		"-bufsize", hardwareBufsize,
	)
	// vaapi frames are already nv12 surfaces after hwupload
	if v.Accel != AccelVAAPI {
		args = append(args, "-pix_fmt", "yuv420p")
	}
	return append(args, "-profile:v", "high")
}
