// Package session owns the per-call state machine: it bridges the
// telephony media stream to transcription, drives model turns, and
// streams synthesized replies back to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxline-ai/voxline/pkg/core/collect"
	"github.com/voxline-ai/voxline/pkg/core/convo"
	"github.com/voxline-ai/voxline/pkg/core/live"
	"github.com/voxline-ai/voxline/pkg/core/llm"
	"github.com/voxline-ai/voxline/pkg/core/tools"
	"github.com/voxline-ai/voxline/pkg/core/voice/stt"
	"github.com/voxline-ai/voxline/pkg/core/voice/tts"
	"github.com/voxline-ai/voxline/pkg/gateway/telephony"
	"github.com/voxline-ai/voxline/pkg/store"
)

const apologyReply = "I'm sorry, I had trouble with that. Could you say it again?"

// Config carries the per-call behavior knobs.
type Config struct {
	Model        string
	Voice        string
	SystemPrompt string
	Greeting     string

	OrganizationID string
	AssistantID    string
	TestCall       bool

	MaxTurnPairs int
	// StreamLLM segments streamed model output into sentences so
	// synthesis starts before generation finishes.
	StreamLLM bool

	TurnTimeout    time.Duration
	STTModel       string
	UtteranceEndMS int
}

// Dependencies wires a call session to its collaborators. Events is
// the decoded telephony event feed owned by the gateway read loop; it
// must be closed when the socket closes.
type Dependencies struct {
	Events <-chan any
	Writer *Writer
	Logger *slog.Logger

	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Dispatcher *tools.Dispatcher
	Store      store.Store

	Start  telephony.Start
	Config Config
}

type turnResult struct {
	turnID      int
	reply       string
	toolReply   bool
	transferred bool
	err         error
}

type collectFlush struct {
	field    collect.FieldType
	text     string
	complete bool
}

// CallSession is one live phone call.
type CallSession struct {
	events <-chan any
	writer *Writer
	logger *slog.Logger

	llm        llm.Provider
	sttFactory stt.Provider
	tts        tts.Provider
	dispatcher *tools.Dispatcher
	store      store.Store

	start telephony.Start
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc

	speaking   atomic.Bool
	processing atomic.Bool

	history   *convo.History
	sttStream stt.Stream

	teardownOnce sync.Once
	wg           sync.WaitGroup

	recordID  uuid.UUID
	turnCount int
	outcome   string
}

// New validates the wiring and builds a session.
func New(deps Dependencies) (*CallSession, error) {
	if deps.Events == nil {
		return nil, fmt.Errorf("event channel is required")
	}
	if deps.Writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if deps.LLM == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = 8 * time.Second
	}
	if deps.Config.UtteranceEndMS <= 0 {
		deps.Config.UtteranceEndMS = 1200
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CallSession{
		events:     deps.Events,
		writer:     deps.Writer,
		logger:     deps.Logger.With("call_sid", deps.Start.CallSID, "stream_sid", deps.Start.StreamSID),
		llm:        deps.LLM,
		sttFactory: deps.STT,
		tts:        deps.TTS,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		start:      deps.Start,
		cfg:        deps.Config,
		ctx:        ctx,
		cancel:     cancel,
		history:    convo.New(deps.Config.SystemPrompt, deps.Config.MaxTurnPairs),
		outcome:    store.OutcomeCompleted,
	}, nil
}

// Cancel requests teardown from outside the event loop. Used by the
// call tracker during shutdown.
func (s *CallSession) Cancel() { s.cancel() }

// Run drives the call until teardown. It opens the transcription
// stream, speaks the greeting, then loops over telephony events,
// transcription events, and turn results.
func (s *CallSession) Run() error {
	defer s.teardown()

	sampleRate := s.start.MediaFormat.SampleRate
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	sttStream, err := s.sttFactory.NewStream(s.ctx, stt.Config{
		Model:          s.cfg.STTModel,
		Encoding:       "mulaw",
		SampleRate:     sampleRate,
		Channels:       1,
		UtteranceEndMS: s.cfg.UtteranceEndMS,
	})
	if err != nil {
		s.logger.Error("failed to open transcription stream", "error", err)
		s.speakNow(apologyReply)
		return fmt.Errorf("open stt stream: %w", err)
	}
	s.sttStream = sttStream

	s.createCallRecord()

	turnCh := make(chan turnResult, 2)
	flushCh := make(chan collectFlush, 2)

	var (
		collector     *collect.InputBuffer
		turnCancel    context.CancelFunc
		sttDropWarned bool
		turnSeq       int
	)

	cancelTurn := func() {
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
	}
	defer cancelTurn()

	cancelCollector := func() {
		if collector != nil {
			collector.Cancel()
			collector = nil
		}
	}
	defer cancelCollector()

	// armCollector prepares the next caller turn when the reply just
	// spoken asks for a structured field.
	armCollector := func(replyText string) {
		cancelCollector()
		field := collect.ClassifyExpectedInput(replyText)
		if field == collect.FieldGeneral {
			return
		}
		buf := collect.NewInputBuffer(field, func(text string, complete bool) {
			select {
			case flushCh <- collectFlush{field: field, text: text, complete: complete}:
			case <-s.ctx.Done():
			}
		})
		collector = buf
		s.logger.Info("collecting structured input", "field", string(field))
	}

	startTurn := func(userText string) {
		s.processing.Store(true)
		s.turnCount++
		turnSeq++
		s.history.AppendUser(userText)
		snapshot := s.history.Messages()

		turnCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
		turnCancel = cancel
		id := turnSeq
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			res := s.runTurn(turnCtx, id, snapshot)
			select {
			case turnCh <- res:
			case <-s.ctx.Done():
			}
		}()
	}

	// handleTranscript applies the turn-taking rules to a finalized
	// piece of caller speech: drop while a turn is in flight, clear
	// queued audio before acting on a barge-in, then either feed the
	// collector or start a turn.
	handleTranscript := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if s.processing.Load() {
			s.logger.Debug("transcript dropped, turn in flight", "text", text)
			return
		}
		if s.speaking.Load() {
			if err := s.writer.SendClear(); err != nil {
				s.logger.Warn("failed to clear outbound audio", "error", err)
			}
			s.speaking.Store(false)
		}
		if collector != nil {
			collector.Append(text)
			return
		}
		startTurn(text)
	}

	// Greeting. Spoken from a goroutine so mark acknowledgments keep
	// flowing through the loop while audio drains.
	if greeting := strings.TrimSpace(s.cfg.Greeting); greeting != "" {
		s.history.AppendAssistant(greeting)
		armCollector(greeting)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.speakReply(s.ctx, 0, greeting); err != nil {
				s.logger.Warn("greeting playback failed", "error", err)
			}
		}()
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil

		case msg, ok := <-s.events:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case telephony.Media:
				audio, err := m.Audio()
				if err != nil {
					s.logger.Warn("undecodable media payload", "error", err)
					continue
				}
				if err := s.sttStream.SendAudio(audio); err != nil {
					if !sttDropWarned {
						sttDropWarned = true
						s.logger.Warn("dropping audio, transcription stream unavailable", "error", err)
					}
				}
			case telephony.Mark:
				s.speaking.Store(false)
			case telephony.Stop:
				s.logger.Info("call stopped by provider")
				return nil
			case telephony.Connected, telephony.Start:
				// Already handled during connection setup.
			}

		case ev, ok := <-s.sttStream.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case stt.EventPartial:
				// Informational only.
			case stt.EventFinal:
				handleTranscript(ev.Text)
			case stt.EventUtteranceEnd:
				if collector != nil {
					collector.UtteranceEnd()
				}
			case stt.EventError:
				s.logger.Error("transcription stream failed", "error", ev.Err)
				s.speakNow(apologyReply)
				return nil
			}

		case fl := <-flushCh:
			collector = nil
			value := strings.TrimSpace(fl.text)
			if fl.field == collect.FieldPhone {
				if digits := collect.ExtractDigits(fl.text); digits != "" {
					value = digits
				}
			}
			s.logger.Info("structured input collected",
				"field", string(fl.field), "complete", fl.complete)
			if s.processing.Load() {
				continue
			}
			if s.speaking.Load() {
				if err := s.writer.SendClear(); err != nil {
					s.logger.Warn("failed to clear outbound audio", "error", err)
				}
				s.speaking.Store(false)
			}
			startTurn(value)

		case res := <-turnCh:
			if res.turnID != turnSeq {
				continue
			}
			cancelTurn()
			if res.err != nil {
				s.history.RollbackLastUser()
				s.processing.Store(false)
				s.logger.Error("turn failed", "error", res.err)
				s.wg.Add(1)
				go func(id int) {
					defer s.wg.Done()
					_ = s.speakReply(s.ctx, id, apologyReply)
				}(turnSeq)
				continue
			}
			if res.toolReply {
				s.history.AppendTool(res.reply)
			} else {
				s.history.AppendAssistant(res.reply)
			}
			if res.transferred {
				s.outcome = store.OutcomeTransferred
			}
			armCollector(res.reply)
			s.processing.Store(false)
		}
	}
}

// runTurn generates and speaks one reply. The reply text is returned
// for history; speaking happens here so sentence streaming can overlap
// generation.
func (s *CallSession) runTurn(ctx context.Context, turnID int, history []convo.Message) turnResult {
	req := &llm.Request{
		Model:    s.cfg.Model,
		Messages: toLLMMessages(history),
	}
	if s.dispatcher != nil {
		req.Tools = tools.Definitions()
	}

	if s.cfg.StreamLLM {
		return s.runStreamingTurn(ctx, turnID, req)
	}

	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		return turnResult{turnID: turnID, err: err}
	}
	if resp.ToolCall != nil {
		return s.executeToolTurn(ctx, turnID, resp.ToolCall)
	}
	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		return turnResult{turnID: turnID, err: fmt.Errorf("model returned empty reply")}
	}
	if err := s.speakReply(ctx, turnID, reply); err != nil {
		// Generation succeeded; the turn still counts for history.
		s.logger.Warn("reply playback failed", "error", err)
	}
	return turnResult{turnID: turnID, reply: reply}
}

// runStreamingTurn speaks sentences as the model produces them. Output
// order is preserved: sentences are synthesized and sent sequentially
// from this goroutine.
func (s *CallSession) runStreamingTurn(ctx context.Context, turnID int, req *llm.Request) turnResult {
	stream, err := s.llm.Stream(ctx, req)
	if err != nil {
		return turnResult{turnID: turnID, err: err}
	}
	defer stream.Close()

	sentences := live.NewSentenceBuffer()
	var full strings.Builder
	spokeAny := false

	speakSentence := func(text string) {
		if text == "" {
			return
		}
		if err := s.sendSpeech(ctx, text); err != nil {
			s.logger.Warn("sentence playback failed", "error", err)
			return
		}
		spokeAny = true
	}

	for {
		delta, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Nothing spoken yet means the turn can fail cleanly.
			if !spokeAny {
				return turnResult{turnID: turnID, err: err}
			}
			s.logger.Warn("model stream broke mid-reply", "error", err)
			break
		}
		if delta.ToolCall != nil {
			return s.executeToolTurn(ctx, turnID, delta.ToolCall)
		}
		if delta.Text == "" {
			continue
		}
		full.WriteString(delta.Text)
		speakSentence(sentences.Add(delta.Text))
	}
	speakSentence(sentences.Flush())

	reply := strings.TrimSpace(full.String())
	if reply == "" {
		return turnResult{turnID: turnID, err: fmt.Errorf("model returned empty reply")}
	}
	if err := s.writer.SendMark(markName(turnID)); err != nil && !errors.Is(err, ErrWriterClosed) {
		s.logger.Warn("failed to send playback mark", "error", err)
	}
	return turnResult{turnID: turnID, reply: reply}
}

// executeToolTurn dispatches the function call and speaks its result
// as the reply for this turn.
func (s *CallSession) executeToolTurn(ctx context.Context, turnID int, call *llm.ToolCall) turnResult {
	if s.dispatcher == nil {
		return turnResult{turnID: turnID, err: fmt.Errorf("model requested tool %q with no dispatcher", call.Name)}
	}
	callCtx := &tools.CallContext{
		CallID:         s.start.CallSID,
		OrganizationID: s.cfg.OrganizationID,
		AssistantID:    s.cfg.AssistantID,
		TestCall:       s.cfg.TestCall,
	}
	if s.store != nil {
		rules, err := s.store.TransferRules(ctx, s.cfg.OrganizationID)
		if err != nil {
			s.logger.Warn("failed to load transfer rules", "error", err)
		}
		callCtx.TransferRules = rules
	}

	res := s.dispatcher.Execute(ctx, callCtx, call.Name, call.Arguments)
	if err := s.speakReply(ctx, turnID, res.Message); err != nil {
		s.logger.Warn("tool reply playback failed", "error", err)
	}
	return turnResult{
		turnID:      turnID,
		reply:       res.Message,
		toolReply:   true,
		transferred: res.Action == tools.ActionTransfer,
	}
}

// speakReply synthesizes the full reply, streams its frames, and ends
// with the playback mark whose acknowledgment clears the speaking flag.
func (s *CallSession) speakReply(ctx context.Context, turnID int, text string) error {
	if err := s.sendSpeech(ctx, text); err != nil {
		return err
	}
	if err := s.writer.SendMark(markName(turnID)); err != nil && !errors.Is(err, ErrWriterClosed) {
		return err
	}
	return nil
}

// sendSpeech synthesizes one piece of text and sends its audio frames.
func (s *CallSession) sendSpeech(ctx context.Context, text string) error {
	audio, err := s.tts.Synthesize(ctx, text, tts.SynthesizeOptions{Voice: s.cfg.Voice})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	s.speaking.Store(true)
	for _, frame := range tts.Frames(audio) {
		if err := s.writer.SendAudioFrame(frame); err != nil {
			return fmt.Errorf("send audio frame: %w", err)
		}
	}
	return nil
}

// speakNow is a best-effort synchronous apology used on fatal paths.
func (s *CallSession) speakNow(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.speakReply(ctx, 0, text); err != nil {
		s.logger.Warn("apology playback failed", "error", err)
	}
}

func (s *CallSession) createCallRecord() {
	if s.store == nil {
		return
	}
	rec := &store.CallRecord{
		CallSID:        s.start.CallSID,
		StreamSID:      s.start.StreamSID,
		OrganizationID: s.cfg.OrganizationID,
		AssistantID:    s.cfg.AssistantID,
	}
	ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
	defer cancel()
	if err := s.store.CreateCallRecord(ctx, rec); err != nil {
		s.logger.Warn("failed to create call record", "error", err)
		return
	}
	s.recordID = rec.ID
}

// teardown releases call resources exactly once. Safe from both the
// stop-event path and the socket-close path.
func (s *CallSession) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()
		if s.sttStream != nil {
			if err := s.sttStream.Close(); err != nil {
				s.logger.Warn("failed to close transcription stream", "error", err)
			}
		}
		s.history.Clear()
		s.wg.Wait()

		if s.store != nil && s.recordID != uuid.Nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.store.FinishCallRecord(ctx, s.recordID, s.outcome, s.turnCount, time.Now().UTC()); err != nil {
				s.logger.Warn("failed to finish call record", "error", err)
			}
		}
		s.logger.Info("call torn down", "turns", s.turnCount, "outcome", s.outcome)
	})
}

func markName(turnID int) string {
	return fmt.Sprintf("reply-%d", turnID)
}

func toLLMMessages(history []convo.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
