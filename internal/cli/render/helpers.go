package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Color styles shared by renderers
var (
	addressStyle       = color.New(color.FgWhite)
	hashStyle          = color.New(color.FgCyan)
	faintStyle         = color.New(color.Faint)
	warningStyle       = color.New(color.FgYellow)
	successStyle       = color.New(color.FgGreen)
	errorStyle         = color.New(color.FgRed)
	sectionHeaderStyle = color.New(color.Bold, color.FgHiWhite)
)

var titleCaser = cases.Title(language.English)

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return warningStyle.Sprintf("⚠️  %s", message)
}

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	if len(message) > 0 {
		message = strings.ToUpper(message[:1]) + message[1:]
	}
	return errorStyle.Sprintf("❌ %s", message)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return successStyle.Sprintf("✅ %s", message)
}

// Title turns an identifier like "sapient_compact" into "Sapient Compact"
func Title(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// shortAddress abbreviates an address for table cells
func shortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:8] + "…" + h[len(h)-6:]
}

// getRelativePath returns the relative path from current directory
func getRelativePath(path string) string {
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}

	relPath, err := filepath.Rel(cwd, path)
	if err != nil {
		return path
	}

	return relPath
}
