package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ASCIILogo is printed at the start of interactive runs
const ASCIILogo = `
 ██╗  ██╗ █████╗ ██████╗ ██╗   ██╗███████╗███████╗████████╗
 ██║  ██║██╔══██╗██╔══██╗██║   ██║██╔════╝██╔════╝╚══██╔══╝
 ███████║███████║██████╔╝██║   ██║█████╗  ███████╗   ██║
 ██╔══██║██╔══██║██╔══██╗╚██╗ ██╔╝██╔══╝  ╚════██║   ██║
 ██║  ██║██║  ██║██║  ██║ ╚████╔╝ ███████╗███████║   ██║
 ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚══════╝   ╚═╝
`

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stdout
)

// SetOutput redirects the Print helpers
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// Output returns the writer the Print helpers use
func Output() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return output
}

func Cyan(text string) string    { return render(cyanStyle, text) }
func Yellow(text string) string  { return render(yellowStyle, text) }
func Red(text string) string     { return render(redStyle, text) }
func Green(text string) string   { return render(greenStyle, text) }
func Magenta(text string) string { return render(magentaStyle, text) }
func Dim(text string) string     { return render(dimStyle, text) }

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	fmt.Fprint(Output(), render(logoStyle, ASCIILogo)+"\n")
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output(), Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output(), Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Output(), Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(Output(), "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Output(), Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Output(), Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(Output(), Magenta(msg))
}
