// Package task defines the text-processing tasks and routes each request to
// a concrete prompt template.
package task

import (
	"fmt"
	"strings"
)

// ID identifies a task.
type ID string

const (
	Refine             ID = "refine"
	RefinePresentation ID = "refine_presentation"
	AutoTranslate      ID = "auto_translate"
	EnToZh             ID = "en_to_zh"
	ZhToEn             ID = "zh_to_en"
)

// All lists the tasks in menu order.
var All = []ID{Refine, RefinePresentation, AutoTranslate, EnToZh, ZhToEn}

var names = map[ID]string{
	Refine:             "Refine Text",
	RefinePresentation: "Refine for Presentation",
	AutoTranslate:      "Auto-Translate (Detect Language & Translate)",
	EnToZh:             "English to Chinese",
	ZhToEn:             "Chinese to English",
}

var descriptions = map[ID]string{
	Refine:             "Polish business writing for clarity and tone",
	RefinePresentation: "Turn text into talking points for a presentation",
	AutoTranslate:      "Detect English or Chinese and translate to the other",
	EnToZh:             "Translate English into Simplified Chinese",
	ZhToEn:             "Translate Chinese into English",
}

// Name returns the display name.
func (id ID) Name() string {
	if n, ok := names[id]; ok {
		return n
	}
	return string(id)
}

// Description returns a one-line summary for menus.
func (id ID) Description() string { return descriptions[id] }

// Valid reports whether id is a known task.
func (id ID) Valid() bool {
	_, ok := names[id]
	return ok
}

// Parse resolves a task name, accepting dashes for underscores.
func Parse(s string) (ID, error) {
	id := ID(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !id.Valid() {
		return "", fmt.Errorf("unknown task %q (want one of %s)", s, strings.Join(Names(), ", "))
	}
	return id, nil
}

// Names returns every task ID as a string.
func Names() []string {
	out := make([]string, 0, len(All))
	for _, id := range All {
		out = append(out, string(id))
	}
	return out
}

// Context is the continuity state a session keeps between runs. The router
// only reads it; the caller owns and updates it.
type Context struct {
	TaskID         ID     `json:"task_id,omitempty"`
	PreviousResult string `json:"previous_result,omitempty"`
	PreviousTaskID ID     `json:"previous_task_id,omitempty"`
}

// CanRefineFurther reports whether the previous output of a refine run may be
// fed back as the next input.
func CanRefineFurther(c Context) bool {
	return c.PreviousTaskID == Refine && strings.TrimSpace(c.PreviousResult) != ""
}

// Next returns the context after a successful run of id producing output.
func (c Context) Next(id ID, output string) Context {
	return Context{TaskID: id, PreviousResult: output, PreviousTaskID: id}
}
