package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/policy"
	"github.com/igoryan-dao/ricochet/internal/toolfmt"
	"github.com/igoryan-dao/ricochet/internal/wire"
)

// runFrameLoop is the single reader of the session's upstream connection
// (spec.md §9 "Single-owner upstream connection"). It processes frames in
// receive order, emits progress events in receive order, and is the sole
// place that resolves or rejects the in-flight pending request.
//
// connected is closed exactly once, when cli_connected arrives, so Connect
// can stop waiting on it.
func (s *Session) runFrameLoop(connected chan struct{}) {
	var connectedOnce bool
	closeConnected := func() {
		if !connectedOnce {
			connectedOnce = true
			close(connected)
		}
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for frame := range conn.Incoming() {
		s.handleFrame(frame, closeConnected)
	}

	// Socket closed: fatal only while busy/waiting_tool_decision; logged
	// without rejection during connecting/ready since nothing was awaited.
	s.mu.Lock()
	prior := s.state
	if prior == StateBusy || prior == StateWaitingToolDecision {
		s.state = StateDead
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		if pending != nil {
			pending.reject(fmt.Errorf("upstream socket closed"))
		}
	} else {
		s.mu.Unlock()
		log.Info().Str("component", "session").Str("pool_key", s.Key).Str("prior_state", string(prior)).Msg("upstream socket closed")
	}
}

func (s *Session) handleFrame(frame wire.InFrame, closeConnected func()) {
	switch frame.Type {
	case wire.TypeSessionInit:
		s.mu.Lock()
		if frame.Session != nil {
			s.Model = frame.Session.Model
		}
		s.mu.Unlock()

	case wire.TypeCliConnected:
		s.mu.Lock()
		s.state = StateReady
		s.touch()
		s.mu.Unlock()
		closeConnected()

	case wire.TypeAssistant:
		s.handleAssistant(frame)

	case wire.TypeStreamEvent:
		s.handleStreamEvent(frame)

	case wire.TypePermissionReq:
		s.handlePermissionRequest(frame)

	case wire.TypeToolResult:
		s.emit(toolResult(frame.ToolName, !frame.IsError))

	case wire.TypeResult:
		s.handleResult(frame)

	case wire.TypeCliDisconnected:
		s.mu.Lock()
		fatal := s.state == StateBusy || s.state == StateWaitingToolDecision
		if fatal {
			s.state = StateDead
			pending := s.pending
			s.pending = nil
			s.mu.Unlock()
			if pending != nil {
				pending.reject(fmt.Errorf("cli_disconnected"))
			}
			return
		}
		s.mu.Unlock()

	case wire.TypePing, wire.TypePong, wire.TypeHeartbeat:
		// ignored

	default:
		log.Info().Str("component", "session").Str("frame_type", frame.Type).Msg("unknown frame type")
	}
}

// handleAssistant appends text blocks to the accumulator and emits
// text_delta progress, unless this is a sub-agent frame
// (parent_tool_use_id non-null), per spec.md §4.C.
func (s *Session) handleAssistant(frame wire.InFrame) {
	if frame.ParentToolUseID != "" {
		return
	}
	if frame.Message == nil {
		return
	}

	s.mu.Lock()
	for _, block := range frame.Message.Content {
		if block.Type == "text" && block.Text != "" {
			s.currentText.WriteString(block.Text)
		}
	}
	if frame.Message.Usage != nil {
		s.currentIn += frame.Message.Usage.InputTokens
		s.currentOut += frame.Message.Usage.OutputTokens
	}
	s.currentTurn++
	s.touch()
	turn := s.currentTurn
	s.mu.Unlock()

	for _, block := range frame.Message.Content {
		if block.Type == "text" && block.Text != "" {
			s.emit(textDelta(block.Text))
		}
	}
	s.emit(turnEvent(turn))
}

// handleStreamEvent translates a stream_event frame into a thinking hint.
// Thinking-deltas themselves are logged only, never surfaced as text.
func (s *Session) handleStreamEvent(frame wire.InFrame) {
	if frame.Event == nil {
		return
	}
	switch frame.Event.Type {
	case "message_start":
		s.emit(thinking("Processing…"))
	case "content_block_start":
		if frame.Event.Block == nil {
			return
		}
		switch frame.Event.Block.Type {
		case "thinking":
			s.emit(thinking("Thinking…"))
		case "tool_use":
			s.emit(thinking("Preparing a tool call…"))
		case "text":
			s.emit(thinking("Writing a response…"))
		}
	default:
		log.Debug().Str("component", "session").Str("stream_event", frame.Event.Type).Msg("stream event (logged only)")
	}
}

// handlePermissionRequest answers an allow/deny decision upstream with a
// permission_response while the session stays busy; on passthrough it parks
// the permission and moves busy -> waiting_tool_decision (spec.md §4.C).
func (s *Session) handlePermissionRequest(frame wire.InFrame) {
	s.mu.Lock()
	conn := s.conn
	decision := s.policyEngine.Decide(frame.ToolName, frame.Input)
	s.mu.Unlock()

	s.emit(toolStart(frame.ToolName, toolfmt.Detail(frame.ToolName, frame.Input)))

	switch decision {
	case policy.Allow, policy.Deny:
		behavior := "allow"
		var updatedInput any
		if decision == policy.Deny {
			behavior = "deny"
		} else if len(frame.Input) > 0 {
			var raw any
			if err := json.Unmarshal(frame.Input, &raw); err == nil {
				updatedInput = raw
			}
		}
		resp := wire.PermissionResponseFrame{
			Type:         "permission_response",
			RequestID:    frame.RequestID,
			Behavior:     behavior,
			UpdatedInput: updatedInput,
		}
		if err := conn.Send(resp); err != nil {
			log.Warn().Str("component", "session").Err(err).Msg("failed to send permission_response")
		}

	case policy.Passthrough:
		toolCallID := synthesizeToolCallID()
		s.mu.Lock()
		s.pendingPermissions[toolCallID] = PendingPermission{
			UpstreamRequestID: frame.RequestID,
			ToolName:          frame.ToolName,
			RawInput:          append([]byte(nil), frame.Input...),
			ToolCallID:        toolCallID,
		}
		pending := s.pending
		s.pending = nil
		text := s.currentText.String()
		pendingCalls := s.snapshotPendingPermissionsLocked()
		s.state = StateWaitingToolDecision
		s.mu.Unlock()

		if pending != nil {
			pending.resolve(Result{
				Text:             text,
				Model:            s.Model,
				PendingToolCalls: pendingCalls,
			})
		}
	}
}

func (s *Session) snapshotPendingPermissionsLocked() []PendingPermission {
	out := make([]PendingPermission, 0, len(s.pendingPermissions))
	for _, pp := range s.pendingPermissions {
		out = append(out, pp)
	}
	return out
}

// handleResult finalizes the request: rolls per-request accumulators into
// lifetime counters, computes the new context percentage, fires any
// newly-crossed warning threshold, and resolves the pending request
// (spec.md §4.C).
func (s *Session) handleResult(frame wire.InFrame) {
	if frame.Data == nil {
		return
	}
	data := frame.Data

	s.mu.Lock()
	if data.Usage != nil && s.currentIn == 0 && s.currentOut == 0 {
		s.currentIn = data.Usage.InputTokens
		s.currentOut = data.Usage.OutputTokens
	}
	s.currentCost = data.TotalCostUS
	if data.NumTurns > s.currentTurn {
		s.currentTurn = data.NumTurns
	}

	s.TotalInputTokens += s.currentIn
	s.TotalOutputTokens += s.currentOut
	s.TotalTurns += s.currentTurn
	s.TotalCost += s.currentCost

	s.LastKnownContextPct = percentOf200k(s.currentIn)

	var warningFired int
	for _, threshold := range WarningThresholds {
		if s.LastKnownContextPct >= threshold && !s.warnedThresholds[threshold] {
			s.warnedThresholds[threshold] = true
			warningFired = threshold
		}
	}

	text := s.currentText.String()
	if data.IsError && len(data.Errors) > 0 && text == "" {
		text = strings.Join(data.Errors, "; ")
	}
	if text == "" {
		text = data.Result
	}

	if s.IsSyntheticTurn {
		s.IsSyntheticTurn = false
	} else {
		s.UserTurnCount++
	}

	s.state = StateReady
	s.touch()
	pending := s.pending
	s.pending = nil
	model := s.Model
	inTok, outTok, cost, turns := s.currentIn, s.currentOut, s.currentCost, s.currentTurn
	s.mu.Unlock()

	if warningFired > 0 {
		s.emit(ProgressEvent{Kind: "thinking", StatusText: fmt.Sprintf("⚠️ context at %d%%", warningFired)})
	}

	if pending != nil {
		pending.resolve(Result{
			Text:         text,
			Model:        model,
			InputTokens:  inTok,
			OutputTokens: outTok,
			Cost:         cost,
			Turns:        turns,
		})
	}
}
