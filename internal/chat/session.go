package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"examtutor/internal/llm"
	"examtutor/internal/llm/prompts"
	"examtutor/internal/model"
)

// DefaultOpenDelay debounces the auto-explanation against rapid
// question switching: the request only fires if the question is still
// the active one when the delay elapses.
const DefaultOpenDelay = 300 * time.Millisecond

// DefaultTimeout bounds every streamed request. The browser original
// inherited the transport default; here the deadline is explicit.
const DefaultTimeout = 2 * time.Minute

// Streamer issues one streamed completion request and returns the
// assembled reply. Satisfied by *llm.StreamClient.
type Streamer interface {
	Complete(ctx context.Context, ep llm.Endpoint, messages []model.Message, onToken func(string)) (string, error)
}

// Recorder is the durable side of a conversation. Satisfied by
// *store.Store. Write failures are non-fatal to the session: the
// in-memory transcript stays authoritative until reload.
type Recorder interface {
	Put(examKey string, questionIndex int, messages []model.Message, content string) error
	Get(examKey string, questionIndex int) (*model.ChatRecord, error)
	DeleteOne(examKey string, questionIndex int) error
}

// Surface is the controller's view of the UI shell. The controller
// never touches concrete UI elements; it only requests these
// side effects. Implementations must tolerate calls arriving from
// timer and request goroutines.
type Surface interface {
	// Reset clears the displayed transcript.
	Reset()
	// Typing toggles the typing indicator.
	Typing(active bool)
	// RenderMessage appends a finished message; markdown selects
	// rich rendering for assistant turns.
	RenderMessage(msg model.Message, markdown bool)
	// RenderPartial paints the streamed reply so far (already HTML).
	RenderPartial(html string)
	// TruncateFrom removes the message with the given id and
	// everything displayed after it.
	TruncateFrom(messageID int64)
	// ComposerEnabled toggles the input affordance.
	ComposerEnabled(enabled bool)
	// Notify surfaces an out-of-transcript notice to the user.
	Notify(text string)
}

// SessionState is the transient state of one open question panel.
type SessionState struct {
	Question      model.Question
	QuestionIndex int
	PanelOpen     bool
	// Generation increases on every Open. A render whose captured
	// generation is stale by the time it would paint is dropped.
	Generation uint64
	Transcript []model.Message
}

// Intent names for Dispatch.
const (
	IntentOpen  = "open"
	IntentSend  = "sendMessage"
	IntentRetry = "retry"
	IntentClose = "close"
)

// Intent is one UI action routed through the dispatch table.
type Intent struct {
	Name          string
	Question      model.Question
	QuestionIndex int
	Text          string
	MessageID     int64
}

// Config wires a Controller to its collaborators.
type Config struct {
	ExamKey   string
	Store     Recorder
	Stream    Streamer
	Renderer  *Renderer
	Surface   Surface
	Templates prompts.Templates
	// Endpoint resolves the active completion endpoint per request,
	// so settings changes apply without restarting the session.
	Endpoint func() llm.Endpoint
	// Answers looks up the caller's recorded answer for a question
	// ("" when unanswered).
	Answers func(questionIndex int) string
	// Localize resolves a message id to user-facing text; nil falls
	// back to built-in strings.
	Localize  func(ctx context.Context, msgID string) string
	Timeout   time.Duration
	OpenDelay time.Duration
	Logger    *slog.Logger
}

// Controller orchestrates one conversation per exam question: opening
// and replaying transcripts, the initial explanation, follow-up turns,
// retries, and write-through persistence.
type Controller struct {
	mu       sync.Mutex
	state    SessionState
	msgSeq   int64
	inFlight bool

	examKey   string
	store     Recorder
	stream    Streamer
	renderer  *Renderer
	surface   Surface
	templates prompts.Templates
	endpoint  func() llm.Endpoint
	answers   func(int) string
	localize  func(context.Context, string) string
	timeout   time.Duration
	openDelay time.Duration
	logger    *slog.Logger

	dispatch map[string]func(context.Context, Intent) error
}

func NewController(cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OpenDelay < 0 {
		cfg.OpenDelay = DefaultOpenDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		examKey:   cfg.ExamKey,
		store:     cfg.Store,
		stream:    cfg.Stream,
		renderer:  cfg.Renderer,
		surface:   cfg.Surface,
		templates: cfg.Templates,
		endpoint:  cfg.Endpoint,
		answers:   cfg.Answers,
		localize:  cfg.Localize,
		timeout:   cfg.Timeout,
		openDelay: cfg.OpenDelay,
		logger:    cfg.Logger.With(slog.String("module", "chat")),
	}
	c.dispatch = map[string]func(context.Context, Intent) error{
		IntentOpen: func(ctx context.Context, in Intent) error {
			return c.Open(ctx, in.Question, in.QuestionIndex)
		},
		IntentSend: func(ctx context.Context, in Intent) error {
			return c.SendUserMessage(ctx, in.Text)
		},
		IntentRetry: func(ctx context.Context, in Intent) error {
			return c.Retry(ctx, in.MessageID)
		},
		IntentClose: func(context.Context, Intent) error {
			c.Close()
			return nil
		},
	}
	return c
}

// Dispatch routes a UI intent to the matching controller method.
func (c *Controller) Dispatch(ctx context.Context, in Intent) error {
	fn, ok := c.dispatch[in.Name]
	if !ok {
		return fmt.Errorf("unknown intent %q", in.Name)
	}
	return fn(ctx, in)
}

// Open activates the panel for a question. A stored transcript with a
// non-empty last reply is replayed; otherwise the initial explanation
// is triggered after the open delay, provided the question is still
// active by then.
func (c *Controller) Open(ctx context.Context, q model.Question, questionIndex int) error {
	c.mu.Lock()
	c.state.Generation++
	gen := c.state.Generation
	c.state.Question = q
	c.state.QuestionIndex = questionIndex
	c.state.PanelOpen = true
	c.state.Transcript = nil
	c.msgSeq = 0
	c.mu.Unlock()

	c.surface.Reset()

	rec, err := c.store.Get(c.examKey, questionIndex)
	if err != nil {
		c.logger.Warn("loading chat record failed", slog.String("error", err.Error()))
	}
	if rec != nil && rec.Content != "" {
		c.mu.Lock()
		c.state.Transcript = append([]model.Message(nil), rec.Messages...)
		c.msgSeq = maxMessageID(rec.Messages)
		c.mu.Unlock()
		for _, m := range rec.Messages {
			c.renderStored(gen, m)
		}
		c.surface.ComposerEnabled(true)
		return nil
	}

	if c.openDelay == 0 {
		return c.InitialExplanation(ctx, q, questionIndex)
	}
	time.AfterFunc(c.openDelay, func() {
		if !c.current(gen) {
			return
		}
		if err := c.InitialExplanation(context.Background(), q, questionIndex); err != nil {
			c.logger.Warn("initial explanation failed", slog.String("error", err.Error()))
		}
	})
	return nil
}

// InitialExplanation builds the explanation prompt for a question and
// streams the reply. On success the reply becomes the sole message of
// a fresh record, overwriting any prior record for the question. On
// failure the error is shown as a non-persisted assistant-style
// message and no record is created.
func (c *Controller) InitialExplanation(ctx context.Context, q model.Question, questionIndex int) error {
	gen := c.generation()
	prompt := prompts.BuildExplanation(c.templates, q, c.answers(questionIndex))

	// A user turn must not open a second stream while the explanation
	// is in flight.
	c.mu.Lock()
	c.inFlight = true
	c.mu.Unlock()
	c.surface.ComposerEnabled(false)
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.surface.ComposerEnabled(true)
	}()

	c.setTyping(gen, true)
	text, err := c.streamReply(ctx, gen, prompts.ExplainSystemPrompt, []model.Message{
		{Role: model.RoleUser, Content: prompt},
	})
	c.setTyping(gen, false)
	if err != nil {
		c.showError(ctx, gen, "chat.explain_failed", "解析失败：", err)
		return err
	}

	msg := model.Message{ID: 1, Role: model.RoleAssistant, Content: text}
	transcript := []model.Message{msg}
	c.persist(questionIndex, transcript, text)

	if c.current(gen) {
		c.mu.Lock()
		c.state.Transcript = transcript
		c.msgSeq = msg.ID
		c.mu.Unlock()
		c.surface.RenderMessage(msg, true)
	}
	return nil
}

// SendUserMessage appends a user turn and streams the reply over the
// full accumulated history. The user message is persisted before the
// request goes out, so it survives even if the request fails. The
// composer stays disabled for the duration and is re-enabled on every
// exit path.
func (c *Controller) SendUserMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if text == "" || !c.state.PanelOpen || c.inFlight {
		c.mu.Unlock()
		return nil
	}
	gen := c.state.Generation
	questionIndex := c.state.QuestionIndex
	c.msgSeq++
	userMsg := model.Message{ID: c.msgSeq, Role: model.RoleUser, Content: text}
	c.state.Transcript = append(c.state.Transcript, userMsg)
	history := append([]model.Message(nil), c.state.Transcript...)
	c.inFlight = true
	c.mu.Unlock()

	c.surface.RenderMessage(userMsg, false)
	c.persist(questionIndex, history, model.LatestAssistantContent(history))

	c.surface.ComposerEnabled(false)
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.surface.ComposerEnabled(true)
	}()

	c.setTyping(gen, true)
	reply, err := c.streamReply(ctx, gen, prompts.ChatSystemPrompt, history)
	c.setTyping(gen, false)
	if err != nil {
		c.showError(ctx, gen, "chat.send_failed", "发送失败：", err)
		return err
	}

	assistantMsg := model.Message{ID: userMsg.ID + 1, Role: model.RoleAssistant, Content: reply}
	history = append(history, assistantMsg)
	c.persist(questionIndex, history, reply)

	if c.current(gen) {
		c.mu.Lock()
		c.state.Transcript = history
		c.msgSeq = assistantMsg.ID
		c.mu.Unlock()
		c.surface.RenderMessage(assistantMsg, true)
	}
	return nil
}

// Retry regenerates an assistant message. The message and everything
// after it are removed from display and store; the request is
// re-issued over the truncated history. The initial auto-generated
// explanation is the one assistant message with no preceding user
// turn, so it is regenerated from scratch instead of replayed.
func (c *Controller) Retry(ctx context.Context, messageID int64) error {
	c.mu.Lock()
	if !c.state.PanelOpen || c.inFlight {
		c.mu.Unlock()
		return nil
	}
	gen := c.state.Generation
	q := c.state.Question
	questionIndex := c.state.QuestionIndex
	transcript := append([]model.Message(nil), c.state.Transcript...)
	c.mu.Unlock()

	pos := -1
	for i, m := range transcript {
		if m.ID == messageID && m.Role == model.RoleAssistant {
			pos = i
			break
		}
	}
	if pos < 0 {
		c.surface.Notify(c.tr(ctx, "chat.retry_not_found", "找不到要重新生成的消息"))
		return nil
	}

	// First-explanation special case: a lone assistant message has no
	// user turn to replay against, so regenerate from scratch.
	if pos == 0 && len(transcript) == 1 {
		if err := c.store.DeleteOne(c.examKey, questionIndex); err != nil {
			c.logger.Warn("deleting chat record failed", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		c.state.Transcript = nil
		c.msgSeq = 0
		c.mu.Unlock()
		c.surface.Reset()
		return c.InitialExplanation(ctx, q, questionIndex)
	}

	if pos == 0 || transcript[pos-1].Role != model.RoleUser {
		c.surface.Notify(c.tr(ctx, "chat.retry_no_user_message", "无法找到用户消息内容"))
		return nil
	}

	kept := transcript[:pos]
	c.surface.TruncateFrom(messageID)
	c.mu.Lock()
	c.state.Transcript = append([]model.Message(nil), kept...)
	c.mu.Unlock()
	c.persist(questionIndex, kept, model.LatestAssistantContent(kept))

	if kept[len(kept)-1].Role != model.RoleUser {
		c.surface.Notify(c.tr(ctx, "chat.retry_no_user_message", "无法找到用户消息内容"))
		return nil
	}

	c.mu.Lock()
	c.inFlight = true
	c.mu.Unlock()
	c.surface.ComposerEnabled(false)
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.surface.ComposerEnabled(true)
	}()

	c.setTyping(gen, true)
	reply, err := c.streamReply(ctx, gen, prompts.ChatSystemPrompt, kept)
	c.setTyping(gen, false)
	if err != nil {
		c.showError(ctx, gen, "chat.retry_failed", "重新生成失败：", err)
		return err
	}

	assistantMsg := model.Message{ID: kept[len(kept)-1].ID + 1, Role: model.RoleAssistant, Content: reply}
	final := append(append([]model.Message(nil), kept...), assistantMsg)
	c.persist(questionIndex, final, reply)

	if c.current(gen) {
		c.mu.Lock()
		c.state.Transcript = final
		c.msgSeq = assistantMsg.ID
		c.mu.Unlock()
		c.surface.RenderMessage(assistantMsg, true)
	}
	return nil
}

// Close marks the panel closed. An in-flight stream is not cancelled;
// its renders are suppressed by the closed-panel check and its result
// is still persisted under the question captured at request time.
func (c *Controller) Close() {
	c.mu.Lock()
	c.state.PanelOpen = false
	c.mu.Unlock()
}

// State returns a snapshot of the transient session state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Transcript = append([]model.Message(nil), c.state.Transcript...)
	return s
}

// streamReply is the single streaming path shared by the initial
// explanation, follow-up, and retry flows: system instruction plus
// history in, assembled reply out, with throttled incremental renders
// gated on the captured generation.
func (c *Controller) streamReply(ctx context.Context, gen uint64, systemPrompt string, history []model.Message) (string, error) {
	msgs := make([]model.Message, 0, len(history)+1)
	msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	throttle := NewThrottle(RenderThrottle)
	text, err := c.stream.Complete(ctx, c.endpoint(), msgs, func(partial string) {
		if !c.renderable(gen) {
			return
		}
		if throttle.Ready() {
			c.surface.RenderPartial(c.renderer.Render(partial))
		}
	})
	if err != nil {
		return "", err
	}
	// Final render is never throttled, so the tail of the stream is
	// always painted.
	if c.renderable(gen) {
		c.surface.RenderPartial(c.renderer.Render(text))
	}
	return text, nil
}

// persist writes the full transcript through to the store. Storage
// failures are logged and swallowed: the in-memory transcript remains
// authoritative for this session.
func (c *Controller) persist(questionIndex int, messages []model.Message, content string) {
	if err := c.store.Put(c.examKey, questionIndex, messages, content); err != nil {
		c.logger.Error("saving chat record failed",
			slog.Int("question", questionIndex),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) renderStored(gen uint64, m model.Message) {
	if !c.renderable(gen) {
		return
	}
	c.surface.RenderMessage(m, m.Role == model.RoleAssistant)
}

func (c *Controller) showError(ctx context.Context, gen uint64, msgID, fallback string, err error) {
	if !c.renderable(gen) {
		return
	}
	c.surface.RenderMessage(model.Message{
		Role:    model.RoleAssistant,
		Content: c.tr(ctx, msgID, fallback) + err.Error(),
	}, false)
}

func (c *Controller) setTyping(gen uint64, active bool) {
	if c.renderable(gen) {
		c.surface.Typing(active)
	}
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Generation
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Generation == gen
}

// renderable reports whether output stamped with gen may still paint:
// the panel is open and no newer generation has superseded it.
func (c *Controller) renderable(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.PanelOpen && c.state.Generation == gen
}

func (c *Controller) tr(ctx context.Context, msgID, fallback string) string {
	if c.localize != nil {
		return c.localize(ctx, msgID)
	}
	return fallback
}

func maxMessageID(msgs []model.Message) int64 {
	var highest int64
	for _, m := range msgs {
		if m.ID > highest {
			highest = m.ID
		}
	}
	return highest
}
