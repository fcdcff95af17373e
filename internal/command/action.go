package command

import "fmt"

type Mode int

const (
	ModeIdle Mode = iota
	ModeDirectConversation
	ModeCommandConversation
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeDirectConversation:
		return "direct"
	case ModeCommandConversation:
		return "command"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionPlayCue
	ActionForwardToAgent
	ActionExportRollingWindow
	ActionNotifyChannel
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionPlayCue:
		return "play_cue"
	case ActionForwardToAgent:
		return "forward_to_agent"
	case ActionExportRollingWindow:
		return "export_rolling_window"
	case ActionNotifyChannel:
		return "notify_channel"
	default:
		return "unknown"
	}
}

// CueID names a short prerecorded sound.
type CueID string

const (
	CueTrigger CueID = "trigger"
	CueGarmin  CueID = "garmin"
	CueConfirm CueID = "confirm"
	CueSong    CueID = "song"
)

// Action is one side effect requested by the machine. Cue is set for
// ActionPlayCue, Text for ActionForwardToAgent.
type Action struct {
	Kind ActionKind
	Cue  CueID
	Text string
}

func PlayCue(cue CueID) Action {
	return Action{Kind: ActionPlayCue, Cue: cue}
}

func ForwardToAgent(text string) Action {
	return Action{Kind: ActionForwardToAgent, Text: text}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionPlayCue:
		return "play_cue(" + string(a.Cue) + ")"
	case ActionForwardToAgent:
		return fmt.Sprintf("forward_to_agent(%q)", a.Text)
	default:
		return a.Kind.String()
	}
}
