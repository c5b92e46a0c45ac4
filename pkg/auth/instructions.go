package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowLoginGuide writes step-by-step instructions for obtaining a source's
// credentials.
func ShowLoginGuide(w io.Writer, source string) {
	switch source {
	case "reddit":
		showRedditGuide(w)
	case "instagram":
		showInstagramGuide(w)
	default:
		fmt.Fprintf(w, "%s needs no credentials.\n", source)
	}
}

func banner(w io.Writer, title string) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w)
}

func showRedditGuide(w io.Writer) {
	banner(w, "REDDIT APP CREDENTIALS")

	fmt.Fprintln(w, "Without credentials subreddits are read anonymously, which reddit throttles hard.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Open https://www.reddit.com/prefs/apps while logged in")
	fmt.Fprintln(w, "STEP 2: Click 'create another app...' and pick the 'script' type")
	fmt.Fprintln(w, "   - Any name works; use http://localhost:8080 as the redirect uri")
	fmt.Fprintln(w, "STEP 3: Copy the values:")
	fmt.Fprintln(w, "   • client_id      the string under 'personal use script'")
	fmt.Fprintln(w, "   • client_secret  the 'secret' field")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Username and password are optional. Without them the app logs in as itself.")
	fmt.Fprintf(w, "Environment alternative: %s and %s\n",
		EnvVar("reddit", "client_id"), EnvVar("reddit", "client_secret"))
	fmt.Fprintln(w)
}

func showInstagramGuide(w io.Writer) {
	banner(w, "INSTAGRAM COOKIE EXTRACTION GUIDE")

	fmt.Fprintln(w, "Instagram profiles are read with your browser session cookies.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Log in at https://www.instagram.com")
	fmt.Fprintln(w, "STEP 2: Open Developer Tools (F12, or Cmd+Option+I on Mac)")
	fmt.Fprintln(w, "STEP 3: Application tab (Chrome) or Storage tab (Firefox) → Cookies → https://www.instagram.com")
	fmt.Fprintln(w, "STEP 4: Copy these values:")
	fmt.Fprintln(w, "   ┌─────────────┬──────────────────────────────────────────────┐")
	fmt.Fprintln(w, "   │ Cookie Name │ What it looks like                           │")
	fmt.Fprintln(w, "   ├─────────────┼──────────────────────────────────────────────┤")
	fmt.Fprintln(w, "   │ sessionid   │ Long string with %3A, e.g. 12345678%3Aabc... │")
	fmt.Fprintln(w, "   │ csrftoken   │ 32-character string                          │")
	fmt.Fprintln(w, "   │ ds_user_id  │ Numeric id (optional)                        │")
	fmt.Fprintln(w, "   └─────────────┴──────────────────────────────────────────────┘")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TIPS:")
	fmt.Fprintln(w, "   • Copy the entire value, without quotes or semicolons")
	fmt.Fprintln(w, "   • Cookies expire; log in again when runs report 401")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SECURITY WARNING: these cookies give full access to the account. Never share them.")
	fmt.Fprintln(w)
}
