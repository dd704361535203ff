// Package command classifies finalized transcripts into control operations.
//
// Classification runs in strict priority order, first match wins:
//
//  1. Stop phrases — halt playback immediately, bypassing everything else.
//  2. Built-in commands — mute, voice, crosstalk, wake word, shutdown, and
//     mode changes.
//  3. Custom commands — the configured phrase→action table, in table order.
//  4. Pass-through — the text goes to whatever the current mode consumes.
//
// Stop phrases additionally tolerate transcription noise via fuzzy matching
// (see [FuzzyMatch]); built-ins and custom commands use plain substring
// matching on normalized text. Matching is a pure function of the text and
// the static tables, so classifying the same transcript twice always yields
// the same result.
package command

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vocantra/vocantra/internal/state"
)

// Op is the operation a matched transcript maps to.
type Op int

const (
	// OpPassThrough forwards the text to the current mode's consumer.
	OpPassThrough Op = iota

	// OpStop halts playback immediately.
	OpStop

	// OpMicMute and friends set one runtime flag.
	OpMicMute
	OpMicUnmute
	OpTTSOn
	OpTTSOff
	OpCrosstalkOn
	OpCrosstalkOff
	OpWakeOn
	OpWakeOff

	// OpShutdown ends the process cleanly.
	OpShutdown

	// OpSetMode switches the application mode; Result.Mode carries the target.
	OpSetMode

	// OpToggleMic and friends flip one runtime flag, used by custom commands.
	OpToggleMic
	OpToggleTTS
	OpToggleCrosstalk
	OpToggleWake
	OpToggleAEC

	// OpCustom runs a configured action; Result.Action carries the payload.
	OpCustom
)

// Result is the classification of one finalized transcript.
type Result struct {
	Op     Op
	Mode   state.Mode // valid when Op == OpSetMode
	Action string     // valid when Op == OpCustom
	Text   string     // valid when Op == OpPassThrough; the original text, unchanged
	Phrase string     // the phrase that matched, for logging; empty on pass-through
}

// Command is one entry of the custom phrase→action table.
type Command struct {
	Phrase string
	Op     Op
	Mode   state.Mode // when Op == OpSetMode
	Action string     // when Op == OpCustom
}

// Parse builds a Command from a configured phrase and action string. Action
// forms: "mode:chat|paused|transcribe|notes|command", "toggle:mic|tts|
// crosstalk|wake|aec", or "custom:<payload>". Anything else is malformed;
// the caller skips the entry and keeps loading.
func Parse(phrase, action string) (Command, error) {
	if strings.TrimSpace(phrase) == "" {
		return Command{}, fmt.Errorf("command: empty phrase")
	}
	kind, arg, ok := strings.Cut(action, ":")
	if !ok {
		return Command{}, fmt.Errorf("command: action %q has no kind prefix", action)
	}
	c := Command{Phrase: phrase}
	switch kind {
	case "mode":
		c.Op = OpSetMode
		switch arg {
		case "chat":
			c.Mode = state.ModeChat
		case "paused":
			c.Mode = state.ModePaused
		case "transcribe":
			c.Mode = state.ModeTranscribe
		case "notes":
			c.Mode = state.ModeNoteTaking
		case "command":
			c.Mode = state.ModeCommand
		default:
			return Command{}, fmt.Errorf("command: unknown mode %q", arg)
		}
	case "toggle":
		switch arg {
		case "mic":
			c.Op = OpToggleMic
		case "tts":
			c.Op = OpToggleTTS
		case "crosstalk":
			c.Op = OpToggleCrosstalk
		case "wake":
			c.Op = OpToggleWake
		case "aec":
			c.Op = OpToggleAEC
		default:
			return Command{}, fmt.Errorf("command: unknown toggle target %q", arg)
		}
	case "custom":
		if arg == "" {
			return Command{}, fmt.Errorf("command: empty custom payload")
		}
		c.Op = OpCustom
		c.Action = arg
	default:
		return Command{}, fmt.Errorf("command: unknown action kind %q", kind)
	}
	return c, nil
}

// builtinRule maps a fixed phrase to its operation. Matching is substring
// over normalized text; the table is ordered so that longer, more specific
// phrases win over their own substrings ("unmute" before "mute").
type builtinRule struct {
	phrase string
	op     Op
	mode   state.Mode
}

var builtins = []builtinRule{
	{phrase: "unmute", op: OpMicUnmute},
	{phrase: "start listening", op: OpMicUnmute},
	{phrase: "mute", op: OpMicMute},
	{phrase: "stop listening", op: OpMicMute},
	{phrase: "enable voice", op: OpTTSOn},
	{phrase: "disable voice", op: OpTTSOff},
	{phrase: "enable crosstalk", op: OpCrosstalkOn},
	{phrase: "disable crosstalk", op: OpCrosstalkOff},
	{phrase: "enable wake word", op: OpWakeOn},
	{phrase: "disable wake word", op: OpWakeOff},
	{phrase: "shut down", op: OpShutdown},
	{phrase: "shutdown", op: OpShutdown},
	{phrase: "chat mode", op: OpSetMode, mode: state.ModeChat},
	{phrase: "go to sleep", op: OpSetMode, mode: state.ModePaused},
	{phrase: "pause mode", op: OpSetMode, mode: state.ModePaused},
	{phrase: "transcription mode", op: OpSetMode, mode: state.ModeTranscribe},
	{phrase: "transcribe mode", op: OpSetMode, mode: state.ModeTranscribe},
	{phrase: "note taking mode", op: OpSetMode, mode: state.ModeNoteTaking},
	{phrase: "note mode", op: OpSetMode, mode: state.ModeNoteTaking},
	{phrase: "command mode", op: OpSetMode, mode: state.ModeCommand},
}

// Config holds the static tables for a [Matcher].
type Config struct {
	// StopPhrases halt playback. Matched exactly or fuzzily against the whole
	// normalized transcript.
	StopPhrases []string

	// WakePhrase is the lead-in required outside an active conversation.
	// Empty disables wake detection.
	WakePhrase string

	// Commands is the custom phrase→action table, checked in order.
	Commands []Command
}

// Matcher classifies transcripts. Stateless after construction and safe for
// concurrent use.
type Matcher struct {
	stop      []string
	commands  []Command
	wakeWords []string
}

// NewMatcher builds a Matcher from cfg. Empty phrases are dropped here so
// the per-transcript path never re-validates the tables.
func NewMatcher(cfg Config) *Matcher {
	m := &Matcher{}
	for _, p := range cfg.StopPhrases {
		if strings.TrimSpace(p) != "" {
			m.stop = append(m.stop, strings.ToLower(strings.TrimSpace(p)))
		}
	}
	for _, c := range cfg.Commands {
		if strings.TrimSpace(c.Phrase) != "" {
			c.Phrase = strings.ToLower(strings.TrimSpace(c.Phrase))
			m.commands = append(m.commands, c)
		}
	}
	m.wakeWords = strings.Fields(cfg.WakePhrase)
	return m
}

// Match classifies text. See the package documentation for the priority
// order.
func (m *Matcher) Match(text string) Result {
	norm := normalize(text)
	if norm == "" {
		return Result{Op: OpPassThrough, Text: text}
	}

	// 1. Stop phrases: exact or fuzzy over the whole utterance.
	for _, p := range m.stop {
		if norm == p || FuzzyMatch(norm, p) {
			return Result{Op: OpStop, Phrase: p}
		}
	}

	// 2. Built-in commands.
	for _, r := range builtins {
		if strings.Contains(norm, r.phrase) {
			return Result{Op: r.op, Mode: r.mode, Phrase: r.phrase}
		}
	}

	// 3. Custom commands, in table order.
	for _, c := range m.commands {
		if strings.Contains(norm, c.Phrase) {
			return Result{Op: c.Op, Mode: c.Mode, Action: c.Action, Phrase: c.Phrase}
		}
	}

	// 4. Pass-through, original text untouched.
	return Result{Op: OpPassThrough, Text: text}
}

// normalize lower-cases text and strips surrounding whitespace plus trailing
// punctuation, the two things transcribers bolt onto short commands.
func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
