// Package images picks the display and high-resolution image URLs for a
// vehicle record.
package images

import (
	"regexp"
	"strings"

	"bilregistret/internal/records"
)

const (
	// DisplayKey names the display image in imageInfo and in flat car payloads.
	DisplayKey = "Car Image"
	// HighResKey names the high-resolution image in imageInfo.
	HighResKey = "high_res"
)

var urlPattern = regexp.MustCompile(`^https?://.+`)

// Images holds the resolved URLs. Nil means no usable image.
type Images struct {
	Display *string `json:"carImageUrl"`
	HighRes *string `json:"highResImageUrl"`
}

// IsZero reports whether neither URL is set.
func (i Images) IsZero() bool {
	return i.Display == nil && i.HighRes == nil
}

// ValidURL reports whether v is a string holding a usable http(s) URL.
// Placeholder text leaked from upstream serializers ("undefined", "null")
// is rejected anywhere in the string.
func ValidURL(v records.Value) (string, bool) {
	s, ok := v.StringValue()
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "undefined") || strings.Contains(s, "null") {
		return "", false
	}
	if !urlPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// Resolve picks image URLs from rec.
//
// Display comes from imageInfo, falling back to the car payload only when it
// is flat. High-res only ever comes from imageInfo.
func Resolve(rec records.SourceRecord) Images {
	var out Images

	if url, ok := ValidURL(rec.ImageInfo[DisplayKey]); ok {
		out.Display = &url
	} else if flat := rec.Car.Flat(); flat != nil {
		if v, found := flat.Get(DisplayKey); found {
			if url, ok := ValidURL(v); ok {
				out.Display = &url
			}
		}
	}

	if url, ok := ValidURL(rec.ImageInfo[HighResKey]); ok {
		out.HighRes = &url
	}
	return out
}
