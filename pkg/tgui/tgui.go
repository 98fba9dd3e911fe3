// Package tgui contains small helpers for building Telegram inline
// keyboards and callback data.
package tgui

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrBadCallbackData = errors.New("tgui: malformed callback data")

// Data formats inline callback data as "scope:action:payload".
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// Split parses "scope:action:payload" callback data. The payload part is
// optional.
func Split(data string) (scope, action, payload string, err error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", ErrBadCallbackData
	}
	scope, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return scope, action, payload, nil
}

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Grid2 splits buttons into 2 columns and appends the trailing rows as-is.
func Grid2(buttons []tele.Btn, trailing ...tele.Btn) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := rm.Split(2, buttons)
	if len(trailing) > 0 {
		rows = append(rows, rm.Row(trailing...))
	}
	rm.Inline(rows...)
	return rm
}
