package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/concierge/pkg/audio"
	"github.com/MrWong99/concierge/pkg/realtime/transcript"
)

// Snapshot is a point-in-time copy of everything a host renders.
type Snapshot struct {
	State          State              `json:"state"`
	Status         string             `json:"status"`
	Active         bool               `json:"active"`
	Conversation   []transcript.Entry `json:"conversation"`
	Volume         float64            `json:"volume"`
	Loud           bool               `json:"loud"`
	LoadingContext bool               `json:"loadingContext"`
	RawEventCount  int                `json:"rawEventCount"`
}

// resources are the per-start children of a session. They are released
// together, in field order, by teardown.
type resources struct {
	cancel context.CancelFunc
	conn   Conn
	loud   *audio.LoudnessMeter
	stream audio.Stream
	volume *audio.VolumeMeter
	cred   Credential
	active bool
}

// Session is one realtime voice session. The zero value is not usable; use
// [New]. A Session may be started again after it stops or fails.
type Session struct {
	transport Transport
	creds     CredentialFetcher
	mic       audio.Microphone
	sink      audio.Sink
	preload   ContextLoader
	tools     *Registry
	log       *slog.Logger
	rec       Recorder

	model              string
	voice              string
	instructions       string
	transcriptionModel string
	language           string
	toolTimeout        time.Duration
	preloadTimeout     time.Duration
	loudInterval       time.Duration
	volumeInterval     time.Duration

	// lifecycle serialises Start's entry check with teardown.
	lifecycle sync.Mutex
	// sendMu keeps multi-frame sends (result + continue) contiguous.
	sendMu sync.Mutex

	mu          sync.Mutex
	gen         uint64 // bumped on every start and teardown; stale callbacks compare against it
	state       State
	status      string
	channelOpen bool
	conv        *transcript.Log
	raw         []RawEvent
	volume      float64
	loud        bool
	loadingCtx  bool
	res         resources
	listeners   []func(Snapshot)
}

// New creates an idle session that dials through transport and authorises
// with credentials from creds.
func New(transport Transport, creds CredentialFetcher, opts ...Option) *Session {
	s := &Session{
		transport:          transport,
		creds:              creds,
		mic:                audio.SilenceMicrophone{},
		sink:               audio.Discard,
		tools:              NewRegistry(),
		log:                slog.Default(),
		rec:                nopRecorder{},
		model:              DefaultModel,
		voice:              DefaultVoice,
		transcriptionModel: DefaultTranscriptionModel,
		language:           DefaultLanguage,
		preloadTimeout:     DefaultPreloadTimeout,
		loudInterval:       audio.DefaultLoudInterval,
		volumeInterval:     audio.DefaultVolumeInterval,
		state:              StateIdle,
		status:             "idle",
		conv:               transcript.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterTool adds a tool to the session's registry. Tools registered
// after the session became active are callable but only advertised to the
// model on the next start.
func (s *Session) RegisterTool(t Tool) error {
	return s.tools.Register(t)
}

// Tools returns the session's registry.
func (s *Session) Tools() *Registry { return s.tools }

// ── Lifecycle ──────────────────────────────────────────────────────────────────

// Start acquires the microphone and a credential concurrently, then dials
// the transport. It returns once the answer has been applied; the session
// becomes active asynchronously when the control channel opens. Setup
// failures tear everything down, leave the session in [StateError] and are
// returned. ctx bounds setup only.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	s.mu.Lock()
	if s.state.Running() {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return ErrAlreadyStarted
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.res = resources{cancel: cancel}
	s.state = StateNegotiating
	s.status = "requesting microphone and credential"
	s.conv.Reset()
	s.raw = nil
	s.mu.Unlock()
	s.lifecycle.Unlock()
	s.notify()

	started := time.Now()
	s.log.Info("realtime: starting session", "model", s.model, "voice", s.voice, "tools", s.tools.Len())

	setupCtx, setupCancel := context.WithCancel(ctx)
	defer setupCancel()
	stopSetup := context.AfterFunc(runCtx, setupCancel)
	defer stopSetup()

	if err := s.setup(setupCtx, runCtx, gen, started); err != nil {
		if !s.fail(gen, err) {
			if errors.Is(err, ErrStopped) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrStopped, err)
		}
		s.rec.SetupFinished(ctx, time.Since(started), err)
		return err
	}
	return nil
}

func (s *Session) setup(ctx, runCtx context.Context, gen uint64, started time.Time) error {
	var (
		stream audio.Stream
		cred   Credential
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.mic.Acquire(gctx)
		if err != nil {
			return fmt.Errorf("realtime: acquire microphone: %w", err)
		}
		stream = st
		return nil
	})
	g.Go(func() error {
		c, err := s.creds.Fetch(gctx)
		if err != nil {
			return fmt.Errorf("realtime: fetch credential: %w", err)
		}
		cred = c
		return nil
	})
	err := g.Wait()

	// Hand the stream to the session first so that teardown releases it
	// whether or not the credential arrived.
	var tapped audio.Stream
	if stream != nil {
		meter := audio.NewLoudnessMeter()
		tapped = audio.Tap(stream, meter.Write)
		vm := audio.NewVolumeMeter(0)
		if !s.update(gen, func() {
			s.res.loud = meter
			s.res.stream = tapped
			s.res.volume = vm
		}) {
			meter.Close()
			tapped.Stop()
			return ErrStopped
		}
		meter.Start(s.loudInterval, func(loud bool) {
			if s.update(gen, func() { s.loud = loud }) {
				s.notify()
			}
		})
	}
	if err != nil {
		return err
	}
	if !s.update(gen, func() {
		s.res.cred = cred
		s.status = "establishing connection"
	}) {
		return ErrStopped
	}
	s.notify()

	preloaded := s.startPreload(runCtx, gen)

	conn, err := s.transport.Dial(ctx, DialRequest{
		Credential: cred,
		Model:      s.model,
		Voice:      s.voice,
		Audio:      tapped,
		OnAudio:    s.inboundAudio(gen),
	})
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	var vm *audio.VolumeMeter
	if !s.update(gen, func() {
		s.res.conn = conn
		vm = s.res.volume
	}) {
		_ = conn.Close()
		return ErrStopped
	}
	if vm != nil {
		vm.Start(s.volumeInterval, func(v float64) {
			if s.update(gen, func() { s.volume = v }) {
				s.notify()
			}
		})
	}

	go s.loop(runCtx, gen, conn, preloaded, started)
	return nil
}

// startPreload fetches the property context in the background. The
// returned channel yields the priming text, or "" when there is none.
func (s *Session) startPreload(ctx context.Context, gen uint64) <-chan string {
	out := make(chan string, 1)
	if s.preload == nil {
		out <- ""
		return out
	}
	s.update(gen, func() { s.loadingCtx = true })
	s.notify()
	go func() {
		loadCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.preloadTimeout > 0 {
			loadCtx, cancel = context.WithTimeout(ctx, s.preloadTimeout)
		}
		defer cancel()

		var msg string
		pc, err := s.preload.Load(loadCtx)
		if err != nil {
			s.log.Warn("realtime: property context unavailable, continuing without it", "err", err)
		} else {
			msg = contextMessage(pc)
		}
		if s.update(gen, func() { s.loadingCtx = false }) {
			s.notify()
		}
		out <- msg
	}()
	return out
}

func (s *Session) inboundAudio(gen uint64) func(audio.AudioFrame) {
	return func(f audio.AudioFrame) {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		vm := s.res.volume
		s.mu.Unlock()
		if vm != nil {
			vm.Write(f)
		}
		s.sink.Play(f)
	}
}

// Stop tears the session down synchronously. It does not wait for
// in-flight tool calls; their results are dropped. Safe to call from any
// state, any number of times.
func (s *Session) Stop() {
	if s.end(0, false, StateStopped, "stopped") {
		s.log.Info("realtime: session stopped")
	}
}

// fail tears down the start identified by gen and records err. It reports
// false if that start was already torn down.
func (s *Session) fail(gen uint64, err error) bool {
	if !s.end(gen, true, StateError, "error: "+err.Error()) {
		return false
	}
	s.log.Error("realtime: session failed", "err", err)
	return true
}

// end tears down the current start, or only the start identified by gen
// when checkGen is set, and moves the session to final. It reports whether
// a running start was torn down.
func (s *Session) end(gen uint64, checkGen bool, final State, status string) bool {
	s.lifecycle.Lock()
	s.mu.Lock()
	if checkGen && s.gen != gen {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return false
	}
	running := s.state.Running()
	s.gen++
	res := s.res
	s.res = resources{}
	s.channelOpen = false
	s.mu.Unlock()

	s.teardown(res, final, status)
	s.lifecycle.Unlock()
	s.notify()
	return running
}

// teardown releases res in order and resets every host-visible field. Each
// step tolerates a resource that was never created.
func (s *Session) teardown(res resources, final State, status string) {
	if res.cancel != nil {
		res.cancel()
	}
	if res.conn != nil {
		if err := res.conn.Close(); err != nil {
			s.log.Debug("realtime: close connection", "err", err)
		}
	}
	if res.loud != nil {
		res.loud.Close()
	}
	if res.stream != nil {
		res.stream.Stop()
	}

	s.mu.Lock()
	s.loud = false
	s.mu.Unlock()

	if res.volume != nil {
		res.volume.Close()
	}

	s.mu.Lock()
	s.conv.ClearEphemeral()
	s.volume = 0
	s.conv.Reset()
	s.raw = nil
	s.loadingCtx = false
	s.state = final
	s.status = status
	s.mu.Unlock()

	if res.active {
		s.rec.ActiveSessions(context.Background(), -1)
	}
}

// ── Event loop ─────────────────────────────────────────────────────────────────

// loop is the single consumer of conn's events. Every frame, including any
// tool call it triggers, is fully handled before the next one is read.
func (s *Session) loop(ctx context.Context, gen uint64, conn Conn, preloaded <-chan string, started time.Time) {
	calls := newToolCalls()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				s.handleClosed(gen, nil)
				return
			}
			switch ev.Type {
			case ConnOpen:
				s.handleOpen(ctx, gen, conn, preloaded, started)
			case ConnMessage:
				s.handleMessage(ctx, gen, conn, calls, ev.Data)
			case ConnClosed:
				s.handleClosed(gen, ev.Err)
				return
			}
		}
	}
}

func (s *Session) handleOpen(ctx context.Context, gen uint64, conn Conn, preloaded <-chan string, started time.Time) {
	if !s.update(gen, func() { s.status = "configuring session" }) {
		return
	}
	s.notify()

	err := s.sendAll(conn, s.sessionUpdate(), messageItem("system", languageMessage(s.language)))
	if err == nil {
		var (
			msg     string
			timeout <-chan time.Time
		)
		// The loader's context is bounded too; the timer covers loaders
		// that ignore cancellation.
		if s.preloadTimeout > 0 {
			t := time.NewTimer(s.preloadTimeout)
			defer t.Stop()
			timeout = t.C
		}
		select {
		case msg = <-preloaded:
		case <-timeout:
			s.log.Warn("realtime: property context not ready, continuing without it", "waited", s.preloadTimeout)
			if s.update(gen, func() { s.loadingCtx = false }) {
				s.notify()
			}
		case <-ctx.Done():
			return
		}
		if msg != "" {
			err = s.sendAll(conn, messageItem("system", msg))
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: configure session: %w", ErrNegotiation, err)
		if s.fail(gen, err) {
			s.rec.SetupFinished(ctx, time.Since(started), err)
		}
		return
	}

	if !s.update(gen, func() {
		s.state = StateActive
		s.status = "connected"
		s.channelOpen = true
		s.res.active = true
	}) {
		return
	}
	s.rec.ActiveSessions(ctx, 1)
	s.rec.SetupFinished(ctx, time.Since(started), nil)
	s.log.Info("realtime: session active", "setup", time.Since(started))
	s.notify()
}

func (s *Session) handleClosed(gen uint64, err error) {
	if err != nil {
		s.fail(gen, fmt.Errorf("realtime: connection lost: %w", err))
		return
	}
	if s.end(gen, true, StateStopped, "connection closed") {
		s.log.Info("realtime: connection closed by remote")
	}
}

func (s *Session) handleMessage(ctx context.Context, gen uint64, conn Conn, calls *toolCalls, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		s.log.Warn("realtime: ignoring malformed frame", "err", err)
	}
	s.rec.FrameReceived(ctx, frame.Kind)

	ev := &frame.event
	switch frame.Kind {
	case KindSpeechStarted:
		s.update(gen, s.conv.SpeechStarted)
	case KindSpeechStopped:
		s.update(gen, s.conv.SpeechStopped)
	case KindInputCommitted:
		s.update(gen, s.conv.InputCommitted)
	case KindUserPartial:
		text := frame.text()
		s.update(gen, func() { s.conv.UserPartial(text) })
	case KindUserFinal:
		text := frame.text()
		s.update(gen, func() { s.conv.UserFinal(text) })
	case KindAssistantPartial:
		delta := ev.Delta
		s.update(gen, func() { s.conv.AssistantDelta(delta) })
	case KindAssistantFinal:
		s.update(gen, s.conv.AssistantDone)
	case KindToolCallStarted:
		calls.track(ev.Item.CallID, ev.Item.ID, ev.Item.Name)
	case KindToolArgsDelta:
		tc := calls.track(ev.CallID, ev.ItemID, ev.Name)
		tc.args.WriteString(ev.Delta)
	case KindToolArgsDone:
		s.dispatchTool(ctx, conn, calls, ev)
	case KindToolCallFinished:
		if tc := calls.find(ev.Item.CallID, ev.Item.ID); tc != nil {
			if tc.state == callPending {
				s.log.Debug("realtime: tool call finished without arguments", "call_id", tc.callID)
			}
			calls.forget(tc)
		}
	case KindError:
		s.log.Warn("realtime: remote error", "message", frame.errorMessage())
	default:
		s.log.Debug("realtime: unhandled frame", "type", frame.Type())
	}

	raw := RawEvent{Type: frame.Type(), Data: rawJSON(data), ReceivedAt: time.Now()}
	if s.update(gen, func() { s.raw = append(s.raw, raw) }) {
		s.notify()
	}
}

// dispatchTool runs a completed tool call and always answers with exactly
// one result frame and one continue frame, unless the tool is unknown.
func (s *Session) dispatchTool(ctx context.Context, conn Conn, calls *toolCalls, ev *serverEvent) {
	tc := calls.track(ev.CallID, ev.ItemID, ev.Name)
	if tc.state != callPending {
		return
	}
	tool, ok := s.tools.Lookup(tc.name)
	if !ok {
		tc.state = callFailed
		s.log.Warn("realtime: model called unregistered tool", "tool", tc.name, "call_id", tc.callID)
		return
	}

	args := resolveArguments(ev.Arguments, tc.args.String())
	toolCtx := ctx
	if s.toolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, s.toolTimeout)
		defer cancel()
	}

	begin := time.Now()
	output, err := invokeTool(toolCtx, tool, args)
	s.rec.ToolFinished(ctx, tool.Name, time.Since(begin), err)
	if err != nil {
		tc.state = callFailed
		s.log.Warn("realtime: tool failed", "tool", tool.Name, "call_id", tc.callID, "err", err)
	} else {
		tc.state = callExecuted
		s.log.Debug("realtime: tool executed", "tool", tool.Name, "call_id", tc.callID, "duration", time.Since(begin))
	}

	_ = s.sendAll(conn, callOutputItem(tc.callID, output), responseCreate)
}

// ── Text injection ─────────────────────────────────────────────────────────────

// SendText injects a typed user turn. When the control channel is not open
// the call is logged and ignored: nothing is queued and the conversation is
// not touched.
func (s *Session) SendText(text string) {
	s.mu.Lock()
	conn := s.res.conn
	if !s.channelOpen || conn == nil {
		s.mu.Unlock()
		s.log.Error("realtime: cannot send text, control channel not open")
		return
	}
	s.conv.AppendUserText(text)
	s.mu.Unlock()
	s.notify()

	_ = s.sendAll(conn, messageItem("user", text), responseCreate)
}

// ── Sending ────────────────────────────────────────────────────────────────────

func (s *Session) sessionUpdate() sessionUpdateMessage {
	return sessionUpdateMessage{
		Type: TagSessionUpdate,
		Session: sessionParams{
			Modalities:              []string{"text", "audio"},
			Voice:                   s.voice,
			Instructions:            s.instructions,
			Tools:                   toToolParams(s.tools.Definitions()),
			ToolChoice:              "auto",
			InputAudioTranscription: &transcriptionParams{Model: s.transcriptionModel},
		},
	}
}

// sendAll marshals and sends frames back to back. The first failure stops
// the sequence; it is logged and returned.
func (s *Session) sendAll(conn Conn, frames ...any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("realtime: marshal: %w", err)
		}
		if err := conn.Send(data); err != nil {
			s.log.Warn("realtime: dropping outbound frame", "err", err)
			return err
		}
	}
	return nil
}

// ── State access ───────────────────────────────────────────────────────────────

// update runs fn under the state lock if gen is still the current start.
// It does not notify listeners.
func (s *Session) update(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	fn()
	return true
}

// OnChange registers fn to receive a snapshot after every state change.
// Callbacks run on the goroutine that made the change and must not block.
// They may call any Session method.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) notify() {
	s.mu.Lock()
	if len(s.listeners) == 0 {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Snapshot returns a copy of the host-visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:          s.state,
		Status:         s.status,
		Active:         s.state == StateActive,
		Conversation:   s.conv.Entries(),
		Volume:         s.volume,
		Loud:           s.loud,
		LoadingContext: s.loadingCtx,
		RawEventCount:  len(s.raw),
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the human-readable status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active reports whether the session is configured and exchanging frames.
func (s *Session) Active() bool { return s.State() == StateActive }

// Conversation returns a copy of the conversation log.
func (s *Session) Conversation() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Entries()
}

// RawEvents returns a copy of every inbound frame received since start.
func (s *Session) RawEvents() []RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RawEvent, len(s.raw))
	copy(out, s.raw)
	return out
}

// Volume returns the current remote RMS level in 0..1.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Loud reports whether the local microphone is currently loud.
func (s *Session) Loud() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loud
}

// LoadingContext reports whether the property-context preload is in flight.
func (s *Session) LoadingContext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingCtx
}

func rawJSON(data []byte) json.RawMessage {
	if json.Valid(data) {
		return append(json.RawMessage(nil), data...)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
