package approval

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/co8/afkbridge/pkg/tgui"
)

const (
	callbackScope = "appr"
	actionChoose  = "choose"
	actionCustom  = "custom"

	customLabel = "✏️ Custom text"
)

func renderText(header, question string, options []Option) string {
	var b strings.Builder
	if strings.TrimSpace(header) != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	b.WriteString(question)
	for i, o := range options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(o.Label)
		if strings.TrimSpace(o.Description) != "" {
			b.WriteString(" — ")
			b.WriteString(o.Description)
		}
	}
	return b.String()
}

// renderMarkup lays out one button per option, two per row, with the custom
// text control on its own trailing row. chosenIdx >= 0 marks that option;
// customChosen marks the custom control instead.
func renderMarkup(options []Option, chosenIdx int, customChosen bool) *tele.ReplyMarkup {
	btns := make([]tele.Btn, len(options))
	for i, o := range options {
		label := o.Label
		if i == chosenIdx {
			label = "✅ " + label
		}
		btns[i] = tgui.Btn(label, tgui.Data(callbackScope, actionChoose, strconv.Itoa(i)))
	}
	custom := customLabel
	if customChosen {
		custom = "✅ " + custom
	}
	return tgui.Grid2(btns, tgui.Btn(custom, tgui.Data(callbackScope, actionCustom, "")))
}

// FormatID derives the externally visible approval id from the transport
// message id. The mapping is reversible so callers holding only the id can
// correlate it back to the sent prompt.
func FormatID(prefix string, messageID int) string {
	return prefix + strconv.Itoa(messageID)
}

// ParseID reverses FormatID.
func ParseID(prefix, id string) (int, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, fmt.Errorf("approval: id %q lacks prefix %q", id, prefix)
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("approval: id %q is not derived from a message id", id)
	}
	return n, nil
}
