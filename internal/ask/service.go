// Package ask runs one question/answer turn end to end: source gathering, answer streaming,
// follow-up suggestions and persistence. It also serves the conversation read paths.
package ask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/llm"
	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/prompt"
	"github.com/wenhaiyang6/parenting/internal/recall"
	"github.com/wenhaiyang6/parenting/internal/search"
	"github.com/wenhaiyang6/parenting/internal/storage"
	"github.com/wenhaiyang6/parenting/pkg/utils"
)

var (
	// ErrMissingUser is returned when a call carries no user id.
	ErrMissingUser = errors.New("missing user id")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream is returned when the answer model failed before producing any text.
	ErrUpstream = errors.New("answer model unavailable")
)

// TitleWords bounds the fallback title taken from the question.
const TitleWords = 8

// Emitter receives the events of one turn. Buffered events are held back until the first
// Send, so a turn that fails before answering leaves nothing written.
type Emitter interface {
	Buffer(v any) error
	Send(v any) error
	Done() error
}

// Gatherer finds grounding sources for a question.
type Gatherer interface {
	Gather(ctx context.Context, question string, recent []string) (*search.Result, error)
}

// Turn is the outcome of Ask.
type Turn struct {
	ConversationID string
	Title          string
	Message        models.Message
	// Partial is set when the answer stream broke after the first delta.
	Partial bool
}

// Service answers questions and manages conversations.
type Service struct {
	store     storage.Storage
	locker    *storage.Locker
	gatherer  Gatherer
	assistant *Assistant
	model     llm.Model
	prompts   *prompt.Store
	recall    *recall.Index
	cfg       config.AskConfig
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecall indexes every persisted turn into idx and serves Search from it.
func WithRecall(idx *recall.Index) Option {
	return func(s *Service) { s.recall = idx }
}

// WithAskConfig sets per-call timeouts and retries.
func WithAskConfig(cfg config.AskConfig) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a service. The assistant's model is also the answer model.
func NewService(store storage.Storage, gatherer Gatherer, model llm.Model, prompts *prompt.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		locker:    storage.NewLocker(),
		gatherer:  gatherer,
		assistant: NewAssistant(model, prompts),
		model:     model,
		prompts:   prompts,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) policy(timeout time.Duration) utils.RetryPolicy {
	return utils.RetryPolicy{Timeout: timeout, Retries: s.cfg.RetriesOrDefault(), Backoff: 200 * time.Millisecond}
}

// Ask runs one turn for userID and writes its events to out.
//
// An error returned before out received a Send means nothing was written. Once the answer
// has started, a model failure is logged and the partial answer is persisted; the stream
// then ends without the done sentinel and Turn.Partial is set.
func (s *Service) Ask(ctx context.Context, userID string, req *models.AskRequest, out Emitter) (*Turn, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	conv, isNew, err := s.resolve(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("conversation_id", conv.ID), zap.String("user_id", userID))

	// Title and sources are independent; run them side by side.
	title := conv.Title
	var gathered *search.Result
	g, gctx := errgroup.WithContext(ctx)
	if isNew {
		g.Go(func() error {
			title = s.title(gctx, req.Question, log)
			return nil
		})
	}
	g.Go(func() error {
		res, err := s.gatherer.Gather(gctx, req.Question, req.RecentQuestions(search.KeywordContextQuestions))
		if err != nil {
			return err
		}
		gathered = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if isNew {
		if err := out.Buffer(models.TitleEvent(conv.ID, title)); err != nil {
			return nil, err
		}
	}
	if err := out.Buffer(models.SearchingEvent(gathered.Keywords)); err != nil {
		return nil, err
	}

	answer, streamErr := s.stream(ctx, req, gathered.Sources, out)
	if streamErr != nil && answer == "" {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, streamErr)
	}
	partial := streamErr != nil
	if partial {
		log.Warn("answer stream broke, persisting partial answer",
			zap.Int("answer_len", len(answer)), zap.Error(streamErr))
	}

	msg := models.Message{
		ID:        newMessageID(),
		Text:      req.Question,
		Answer:    answer,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Sources:   gathered.Sources,
	}
	if !partial {
		if qs := s.followUps(ctx, req.Question, answer, log); len(qs) > 0 {
			msg.FollowUpQuestions = qs
			if err := out.Send(models.FollowUpEvent(qs)); err != nil {
				log.Debug("follow-up event not delivered", zap.Error(err))
			}
		}
	}

	saved, err := s.persist(ctx, conv.ID, userID, title, msg)
	if err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	s.index(saved, msg, log)

	turn := &Turn{ConversationID: conv.ID, Title: saved.Title, Message: msg, Partial: partial}
	if partial {
		return turn, nil
	}
	if err := out.Done(); err != nil {
		log.Debug("done sentinel not delivered", zap.Error(err))
	}
	log.Info("turn completed",
		zap.Int("sources", len(msg.Sources)),
		zap.Int("answer_len", len(answer)),
		zap.Int("follow_ups", len(msg.FollowUpQuestions)))
	return turn, nil
}

// resolve returns the conversation the turn belongs to. A known id owned by someone else is
// ErrNotFound. An unknown client-supplied id starts a new conversation under that id.
// When the request carries no history, the stored turns are used.
func (s *Service) resolve(ctx context.Context, userID string, req *models.AskRequest) (*models.Conversation, bool, error) {
	if req.ConversationID == "" {
		return &models.Conversation{ID: uuid.NewString(), UserID: userID}, true, nil
	}
	conv, err := s.store.FindByID(ctx, req.ConversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.Conversation{ID: req.ConversationID, UserID: userID}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.OwnedBy(userID) {
		return nil, false, storage.ErrNotFound
	}
	if len(req.ConversationHistory) == 0 {
		req.ConversationHistory = conv.History()
		if err := req.Validate(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return conv, len(conv.Messages) == 0, nil
}

func (s *Service) title(ctx context.Context, question string, log *zap.Logger) string {
	t, err := utils.Retry(ctx, s.policy(s.cfg.TitleTimeout), func(ctx context.Context) (string, error) {
		return s.assistant.Title(ctx, question)
	})
	if err != nil {
		log.Warn("title generation failed, using question", zap.Error(err))
		return utils.TruncateWords(question, TitleWords)
	}
	return t
}

// stream runs the answer model. Setup failures are retried while no text has reached the
// client; once a delta is out, the stream is never restarted.
func (s *Service) stream(ctx context.Context, req *models.AskRequest, sources []models.Source, out Emitter) (string, error) {
	system, err := s.prompts.Current().RenderSystem(sources)
	if err != nil {
		return "", err
	}

	var (
		answer    string
		delivered bool
	)
	retries := s.cfg.RetriesOrDefault()
	for attempt := 0; attempt <= retries; attempt++ {
		actx, cancel := withTimeout(ctx, s.cfg.AnswerTimeout)
		answer, err = s.model.Stream(actx, system, req.ConversationHistory, req.Question, func(delta string) error {
			delivered = true
			return out.Send(models.ContentEvent(delta, sources))
		})
		cancel()
		if err == nil && answer == "" {
			err = llm.ErrEmptyResponse
		}
		if err == nil || delivered || ctx.Err() != nil {
			break
		}
		s.logger.Warn("answer stream failed before first delta", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return answer, err
}

func (s *Service) followUps(ctx context.Context, question, answer string, log *zap.Logger) []string {
	qs, err := utils.Retry(ctx, s.policy(s.cfg.FollowUpTimeout), func(ctx context.Context) ([]string, error) {
		return s.assistant.FollowUps(ctx, question, answer)
	})
	if err != nil {
		log.Warn("follow-up generation failed", zap.Error(err))
		return nil
	}
	return qs
}

// persist appends msg under the conversation lock. It outlives a disconnected client so a
// partial answer is still saved.
func (s *Service) persist(ctx context.Context, id, userID, title string, msg models.Message) (*models.Conversation, error) {
	pctx, cancel := withTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	unlock := s.locker.Lock(id)
	defer unlock()
	return s.store.AppendMessage(pctx, id, userID, title, msg)
}

func (s *Service) index(conv *models.Conversation, msg models.Message, log *zap.Logger) {
	if s.recall == nil {
		return
	}
	if err := s.recall.IndexTurn(context.Background(), conv, msg); err != nil {
		log.Warn("recall indexing failed", zap.Error(err))
	}
}

// Conversations returns the user's conversations, most recently updated first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	convs, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	return convs, nil
}

// Conversation returns one conversation owned by userID.
func (s *Service) Conversation(ctx context.Context, userID, id string) (*models.Conversation, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	conv, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.OwnedBy(userID) {
		return nil, storage.ErrNotFound
	}
	return conv, nil
}

// Delete removes a conversation owned by userID and its recall entries.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return ErrMissingUser
	}
	unlock := s.locker.Lock(id)
	defer unlock()
	if err := s.store.DeleteByID(ctx, id, userID); err != nil {
		return err
	}
	if s.recall != nil {
		if err := s.recall.DeleteConversation(ctx, userID, id); err != nil {
			s.logger.Warn("recall prune failed", zap.String("conversation_id", id), zap.Error(err))
		}
	}
	return nil
}

// Search finds the user's past turns matching query. Without a recall index it returns
// no hits.
func (s *Service) Search(ctx context.Context, userID, query string, limit int) ([]recall.Hit, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if s.recall == nil {
		return []recall.Hit{}, nil
	}
	return s.recall.Search(ctx, userID, query, limit, &recall.SearchOptions{Fuzziness: 1})
}

// Suggest returns a spelling correction for a recall query drawn from the user's own turns,
// or "" when there is none.
func (s *Service) Suggest(ctx context.Context, userID, query string) (string, error) {
	if userID == "" {
		return "", ErrMissingUser
	}
	if s.recall == nil {
		return "", nil
	}
	return s.recall.Suggest(ctx, userID, query)
}

// Usage reports store counts and the local disk footprint of paths.
func (s *Service) Usage(ctx context.Context, paths ...string) (*storage.Usage, error) {
	return storage.Report(ctx, s.store, paths...)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// newMessageID returns a time-ordered UUIDv7, falling back to v4.
func newMessageID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
