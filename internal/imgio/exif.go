package imgio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Metadata holds the acquisition metadata of one photograph. Fields are
// kept as strings so that missing values serialize as empty columns.
type Metadata struct {
	ISODate       string // yyyy-mm-dd
	ISOTime       string // hh-mm-ss
	ExposureTime  string
	FNumber       string
	FocalLength35 string
	ISOSpeed      string
}

// ExtractMetadata reads EXIF fields via exiftool -json. A missing tool or
// missing tags degrade to empty fields; the capture date falls back to the
// file modification time. Metadata extraction never fails an image.
func ExtractMetadata(ctx context.Context, path string) Metadata {
	var meta Metadata

	if _, err := exec.LookPath("exiftool"); err == nil {
		cmd := exec.CommandContext(ctx, "exiftool", "-json", "-n", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			var parsed []map[string]interface{}
			if err := json.Unmarshal(out.Bytes(), &parsed); err == nil && len(parsed) > 0 {
				fillFromExif(&meta, parsed[0])
			}
		}
	}

	if meta.ISODate == "" {
		if fi, err := os.Stat(path); err == nil {
			meta.ISODate = fi.ModTime().Format("2006-01-02")
			meta.ISOTime = fi.ModTime().Format("15-04-05")
		}
	}
	return meta
}

func fillFromExif(meta *Metadata, m map[string]interface{}) {
	if v, ok := m["DateTimeOriginal"].(string); ok {
		if t, err := time.Parse("2006:01:02 15:04:05", v); err == nil {
			meta.ISODate = t.Format("2006-01-02")
			meta.ISOTime = t.Format("15-04-05")
		}
	}
	meta.ExposureTime = numberOrString(m["ExposureTime"])
	meta.FNumber = numberOrString(m["FNumber"])
	meta.FocalLength35 = numberOrString(m["FocalLengthIn35mmFormat"])
	meta.ISOSpeed = numberOrString(m["ISO"])
}

// numberOrString renders an exiftool JSON value, which may be numeric or
// textual depending on the tag and camera vendor.
func numberOrString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	}
	return ""
}
