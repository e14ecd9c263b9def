package agent

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// PromptConfig carries the environment details interpolated into the
// system prompt.
type PromptConfig struct {
	// Display is the DISPLAY value inside the environment, e.g. ":4".
	Display string
	// Suffix is appended to the selected prompt, separated by a space.
	Suffix string
	// Now overrides the clock for tests. Zero means time.Now.
	Now time.Time
}

// SystemPrompt returns the system prompt for the given tool version and
// exec mode. Four variants exist: the full prompt mentions the desktop
// and bash usage; computer_only drops the bash guidance; api mode drops
// the GUI guidance since no screen tool is offered.
func SystemPrompt(version ToolVersion, mode ExecMode, cfg PromptConfig) string {
	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	date := now.Format("Monday, January 2, 2006")
	arch := runtime.GOARCH

	var b strings.Builder
	b.WriteString("<SYSTEM_CAPABILITY>\n")
	fmt.Fprintf(&b, "* You are utilising an Ubuntu virtual machine using %s architecture with internet access.\n", arch)

	noBash := version == ToolVersionComputerOnly
	apiOnly := mode == ExecModeAPI

	if !noBash {
		b.WriteString("* You can feel free to install Ubuntu applications with your bash tool. Use curl instead of wget.\n")
	}
	if !apiOnly {
		b.WriteString("* To open firefox, please just click on the firefox icon.  Note, firefox-esr is what is installed on your system.\n")
		if !noBash {
			fmt.Fprintf(&b, "* Using bash tool you can start GUI applications, but you need to set export DISPLAY=%s and use a subshell. For example \"(DISPLAY=%s xterm &)\". GUI apps run with bash tool will appear within your desktop environment, but they may take some time to appear. Take a screenshot to confirm it did.\n", cfg.Display, cfg.Display)
		}
	}
	if !noBash {
		b.WriteString("* When using your bash tool with commands that are expected to output very large quantities of text, redirect into a tmp file and use str_replace_editor or `grep -n -B <lines before> -A <lines after> <query> <filename>` to confirm output.\n")
	}
	if !apiOnly {
		b.WriteString("* When viewing a page it can be helpful to zoom out so that you can see everything on the page.  Either that, or make sure you scroll down to see everything before deciding something isn't available.\n")
	}
	b.WriteString("* When using your computer function calls, they take a while to run and send back to you.  Where possible/feasible, try to chain multiple of these calls all into one function calls request.\n")
	fmt.Fprintf(&b, "* The current date is %s.\n", date)
	b.WriteString("</SYSTEM_CAPABILITY>")

	var important []string
	if !apiOnly {
		important = append(important, "* When using Firefox, if a startup wizard appears, IGNORE IT.  Do not even click \"skip this step\".  Instead, click on the address bar where it says \"Search or enter address\", and enter the appropriate search term or URL there.")
	}
	if !noBash {
		important = append(important, "* If the item you are looking at is a pdf, if after taking a single screenshot of the pdf it seems that you want to read the entire document instead of trying to continue to read the pdf from your screenshots + navigation, determine the URL, use curl to download the pdf, install and use pdftotext to convert it to a text file, and then read that text file directly with your StrReplaceEditTool.")
	}
	if len(important) > 0 {
		b.WriteString("\n\n<IMPORTANT>\n")
		b.WriteString(strings.Join(important, "\n"))
		b.WriteString("\n</IMPORTANT>")
	}

	prompt := b.String()
	if cfg.Suffix != "" {
		prompt += " " + cfg.Suffix
	}
	return prompt
}
