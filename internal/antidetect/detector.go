// Package antidetect recognises anti-bot responses and clears CAPTCHA
// challenges in a real browser.
package antidetect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Classification is the verdict on one response.
type Classification int

const (
	// Clean is a successful page with no challenge.
	Clean Classification = iota
	// Captcha is an interactive challenge a person can solve.
	Captcha
	// HardBlock is the denial-of-service page; no challenge will lift it.
	HardBlock
	// NotOK is a non-2xx response without anti-bot markers.
	NotOK
)

// String returns the lower-case name used in logs and metrics.
func (c Classification) String() string {
	switch c {
	case Clean:
		return "clean"
	case Captcha:
		return "captcha"
	case HardBlock:
		return "hard_block"
	case NotOK:
		return "not_ok"
	default:
		return "unknown"
	}
}

// Default page markers.
var (
	DefaultCaptchaIDs       = []string{"gs_captcha_ccl", "recaptcha", "captcha-form"}
	DefaultHardBlockClasses = []string{"rc-doscaptcha-body"}
)

// Detector classifies response bodies. It is stateless.
type Detector struct {
	captchaIDs   []string
	blockClasses []string
}

// NewDetector creates a detector with the default markers.
func NewDetector() *Detector {
	return NewDetectorWithMarkers(DefaultCaptchaIDs, DefaultHardBlockClasses)
}

// NewDetectorWithMarkers creates a detector for custom element ids and
// classes.
func NewDetectorWithMarkers(captchaIDs, blockClasses []string) *Detector {
	return &Detector{captchaIDs: captchaIDs, blockClasses: blockClasses}
}

// Classify inspects text and status. The hard-block marker wins over the
// CAPTCHA markers. Status 0 means the text did not come from an HTTP
// response and is treated as successful.
func (d *Detector) Classify(text string, status int) Classification {
	// doc stays nil when parsing fails
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(text))

	if d.matchAny(doc, text, d.blockClasses, ".") {
		return HardBlock
	}
	if d.matchAny(doc, text, d.captchaIDs, "#") {
		return Captcha
	}
	if status == 0 || (status >= 200 && status < 300) {
		return Clean
	}
	return NotOK
}

// HasCaptcha reports whether text carries a CAPTCHA marker.
func (d *Detector) HasCaptcha(text string) bool {
	return d.Classify(text, 0) == Captcha
}

// IsHardBlocked reports whether text is the denial-of-service page.
func (d *Detector) IsHardBlocked(text string) bool {
	return d.Classify(text, 0) == HardBlock
}

// matchAny looks for elements by selector prefix ("#" or "."), falling back
// to attribute text when the document could not be parsed.
func (d *Detector) matchAny(doc *goquery.Document, text string, names []string, prefix string) bool {
	for _, name := range names {
		if doc != nil {
			if doc.Find(prefix + name).Length() > 0 {
				return true
			}
			continue
		}
		attr := "id"
		if prefix == "." {
			attr = "class"
		}
		if strings.Contains(text, attr+`="`+name) || strings.Contains(text, attr+`='`+name) {
			return true
		}
	}
	return false
}
