// Package status renders a web page describing what the clock is doing.
package status

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/png"
	"log"
	"net/http"
	"time"

	"github.com/jrockway/rtc-segment-clock/control/bcd"
	"github.com/jrockway/rtc-segment-clock/control/clock"
	"github.com/jrockway/rtc-segment-clock/control/startup"
	"github.com/jrockway/rtc-segment-clock/control/timesync"
	"github.com/jrockway/rtc-segment-clock/control/wifi"
)

var (
	//go:embed index.html.tmpl
	indexHTML string
	funcMap   = template.FuncMap{
		"unixtime":   formatUnixTime,
		"calendar":   formatCalendar,
		"correction": formatCorrection,
		"image":      formatImage,
	}
	index = template.Must(template.New("index").Funcs(funcMap).Parse(indexHTML))
)

// Status is everything the page shows.
type Status struct {
	Now       time.Time
	Network   wifi.State
	Retries   int
	Startup   *startup.Result // nil until startup finishes
	Reading   clock.Reading
	NTP       timesync.Sample
	NTPSynced bool
	Display   *image.RGBA
}

// Page serves the status page.  Collect is called once per request.
type Page struct {
	Collect func() Status
}

func (p *Page) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var s Status
	if p.Collect != nil {
		s = p.Collect()
	}
	buf := new(bytes.Buffer)
	if err := index.Execute(buf, s); err != nil {
		log.Printf("execute template: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func formatUnixTime(t time.Time) string { return t.In(time.UTC).Format(time.UnixDate) }

func formatCalendar(t bcd.CalendarTime) string {
	if err := t.Validate(); err != nil {
		return fmt.Sprintf("%v (invalid: %v)", t, err)
	}
	return t.String()
}

// formatCorrection describes an NTP offset, which is positive when the local clock is behind.
func formatCorrection(d time.Duration) string {
	slow := "slow"
	if d < 0 {
		d = -d
		slow = "fast"
	}
	return fmt.Sprintf("%s %s of NTP time", d.String(), slow)
}

func formatImage(src *image.RGBA) template.URL {
	enlarge, space := 4, 0
	if src == nil {
		src = image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	img := image.NewRGBA(image.Rect(0, 0, enlarge*src.Bounds().Dx(), enlarge*src.Bounds().Dy()))
	for x := 0; x < src.Bounds().Dx(); x++ {
		for y := 0; y < src.Bounds().Dy(); y++ {
			val := src.At(src.Bounds().Min.X+x, src.Bounds().Min.Y+y)
			for i := space; i < enlarge-space; i++ {
				for j := space; j < enlarge-space; j++ {
					img.Set(x*enlarge+i, y*enlarge+j, val)
				}
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		log.Printf("problem encoding image: %v", err)
		return template.URL("data:text/plain,error")
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
}
