package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JSmith01/silence-detector/internal/session"
	"github.com/JSmith01/silence-detector/internal/spectral"
)

// Report is what the record and analyze commands print
type Report struct {
	Title      string
	Source     string
	OutputPath string
	Recording  *session.Recording
	Elapsed    time.Duration
}

// RenderReport writes a styled summary of a finished recording
func RenderReport(w io.Writer, r Report) {
	rec := r.Recording

	fmt.Fprintln(w, TitleStyle.Render(r.Title))

	if r.Source != "" {
		writeKV(w, "Source:", r.Source)
	}
	if r.OutputPath != "" {
		writeKV(w, "Output:", r.OutputPath)
	}
	writeKV(w, "Recording ID:", rec.ID)
	writeKV(w, "Format:", fmt.Sprintf("%d Hz, %d ch, %d bit",
		rec.Format.SampleRate, rec.Format.Channels, rec.Format.BitsPerSample))
	writeKV(w, "Duration:", rec.Duration.Round(time.Millisecond).String())
	writeKV(w, "Samples:", fmt.Sprintf("%d", rec.Samples))
	writeKV(w, "Blocks:", fmt.Sprintf("%d (%d dropped)", rec.Blocks, rec.DroppedBlocks))
	writeKV(w, "File size:", formatBytes(rec.Size()))
	if r.Elapsed > 0 {
		writeKV(w, "Elapsed:", r.Elapsed.Round(time.Millisecond).String())
	}

	fmt.Fprintln(w, SectionStyle.Render("Detection"))
	writeKV(w, "Activations:", fmt.Sprintf("%d", rec.Activations))
	writeKV(w, "Tonal anomalies:", fmt.Sprintf("%d", rec.TonalAnomalies))

	if rec.Spectral == nil {
		fmt.Fprintf(w, "  %s\n", OKStyle.Render("No signal above the silence threshold"))
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintln(w, SectionStyle.Render("Spectrum (last detection)"))
	writeKV(w, "Similarity:", fmt.Sprintf("%.6f", rec.Spectral.Similarity))
	writeKV(w, "Backend:", rec.Spectral.Backend)
	writeKV(w, "Top frequencies:", FormatPeaks(rec.Spectral.TopFrequencies))

	if rec.Tonal {
		fmt.Fprintf(w, "  %s\n", WarningStyle.Render("Tonal interference detected"))
	} else {
		fmt.Fprintf(w, "  %s\n", OKStyle.Render("Broadband signal, no tonal interference"))
	}
	fmt.Fprintln(w)
}

// FormatPeaks renders peaks as "1125 Hz (0.5000), ..."
func FormatPeaks(peaks []spectral.Peak) string {
	if len(peaks) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(peaks))
	for _, p := range peaks {
		parts = append(parts, fmt.Sprintf("%.0f Hz (%.4f)", p.FrequencyHz, p.Magnitude))
	}
	return strings.Join(parts, ", ")
}

// formatBytes renders a byte count with a binary unit
func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := int64(n) / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
