// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// severityHandler renders slog.Record values in one of two fixed shapes,
// neither of which is slog's own TextHandler/JSONHandler output: a single
// "severity=" field instead of "level=", and a message wrapped as a plain
// quoted string with no other attributes. Both formats are line-oriented so
// logs stay greppable without a JSON parser when format=="text".
type severityHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  *slog.LevelVar
	prefix string
	json   bool
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int   `json:"nanos"`
}

type jsonEntry struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	msg := h.prefix + r.Message

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.json {
		entry := jsonEntry{
			Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: r.Time.Nanosecond()},
			Severity:  sev,
			Message:   msg,
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(h.out, "%s\n", b)
		return err
	}

	_, err := fmt.Fprintf(h.out, "time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, msg)
	return err
}

func (h *severityHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *severityHandler) WithGroup(_ string) slog.Handler { return h }

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return "TRACE"
	case level < LevelInfo:
		return "DEBUG"
	case level < LevelWarn:
		return "INFO"
	case level < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}
