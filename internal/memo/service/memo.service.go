package service

import (
	"context"
	"errors"
	"time"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/memo/repository"
	"github.com/iamyasumichi/only-one/internal/metrics"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

var ErrMissingID = errors.New("memo id required")

// Publisher receives an owner's collection after every write.
type Publisher interface {
	Publish(owner string, memos []model.Memo)
}

type MemoService struct {
	Repo    repository.Store
	Hub     Publisher
	Metrics *metrics.Metrics
	now     func() time.Time
}

func NewMemoService(repo repository.Store, hub Publisher, m *metrics.Metrics) *MemoService {
	return &MemoService{Repo: repo, Hub: hub, Metrics: m, now: time.Now}
}

func (s *MemoService) GetMemos(ctx context.Context, userID string) ([]model.Memo, error) {
	return s.Repo.List(ctx, userID)
}

func (s *MemoService) CreateMemo(ctx context.Context, userID string, req model.CreateMemoRequest) (string, error) {
	now := s.now().UnixMilli()
	m := model.Memo{
		Title:     model.NormalizeTitle(req.Title),
		Items:     req.Items,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}

	id, err := s.Repo.Create(ctx, userID, m)
	s.Metrics.RecordWrite("create", err)
	if err != nil {
		return "", err
	}
	s.broadcast(ctx, userID)
	return id, nil
}

// UpdateMemo merges p into the memo. Patches without a timestamp are stamped with the server clock.
func (s *MemoService) UpdateMemo(ctx context.Context, userID, memoID string, p model.Patch) error {
	if memoID == "" {
		return ErrMissingID
	}
	if p.UpdatedAt == 0 {
		p.UpdatedAt = s.now().UnixMilli()
	}

	err := s.Repo.Update(ctx, userID, memoID, p)
	s.Metrics.RecordWrite("update", err)
	if err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	return nil
}

func (s *MemoService) DeleteMemo(ctx context.Context, userID, memoID string) error {
	if memoID == "" {
		return ErrMissingID
	}

	err := s.Repo.Delete(ctx, userID, memoID)
	s.Metrics.RecordWrite("delete", err)
	if err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	return nil
}

func (s *MemoService) Ping(ctx context.Context) error {
	return s.Repo.Ping(ctx)
}

// broadcast pushes the owner's fresh collection to their open sockets.
func (s *MemoService) broadcast(ctx context.Context, userID string) {
	if s.Hub == nil {
		return
	}
	memos, err := s.Repo.List(ctx, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to reload memos for %s after write: %v", userID, err)
		return
	}
	s.Hub.Publish(userID, memos)
}
