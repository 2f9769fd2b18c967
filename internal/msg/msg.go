package msg

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func line(label string, format string, a ...any) {
	fmt.Print(label, ": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Error(format string, a ...any) {
	line(color.HiRedString("error"), format, a...)
}

func Warn(format string, a ...any) {
	line(color.YellowString("warn"), format, a...)
}

func Info(format string, a ...any) {
	line(color.HiGreenString("info"), format, a...)
}

func Fatal(format string, a ...any) {
	line(color.RedString("fatal"), format, a...)
	os.Exit(1)
}

// IndentWriter prefixes every line written through it with Indent. Used
// to nest external tool output under the pipeline's own status lines.
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (int, error) {
	var buf bytes.Buffer
	for _, c := range p {
		if !w.didIndent {
			buf.WriteString(w.Indent)
			w.didIndent = true
		}
		buf.WriteByte(c)
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	if _, err := w.W.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
