package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"skill-sharing/server/internal/model"
	"skill-sharing/server/internal/notify"
	"skill-sharing/server/internal/talks"
)

// ChangeNotifier 在存储写成功后被调用，推进版本号并唤醒等待方。
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context) notify.Version
}

// TalksService 负责 Talk 的命令与查询。
//
// 职责与契约：
// - write-first：先写存储，写成功后才通知；写失败不推进版本号。
// - 修改串行：所有命令经由 CommandLoop 执行，读 - 改 - 写 之间不会被其他命令打断。
// - 业务失败（目标不存在）返回 CommandStatus，存储故障返回 error。
type TalksService struct {
	store    talks.Store
	notifier ChangeNotifier
	loop     *CommandLoop
	logger   *log.Logger
}

func New(store talks.Store, notifier ChangeNotifier, loop *CommandLoop, logger *log.Logger) *TalksService {
	if logger == nil {
		logger = log.Default()
	}
	return &TalksService{
		store:    store,
		notifier: notifier,
		loop:     loop,
		logger:   logger,
	}
}

// SubmitTalk 新增或整体替换同名 Talk，替换时已有评论会被清空。
func (s *TalksService) SubmitTalk(ctx context.Context, cmd model.SubmitTalkCommand) (model.CommandStatus, error) {
	s.logger.Printf("[TalksService] Submit talk: title=%q presenter=%q", cmd.Title, cmd.Presenter)

	err := s.loop.Do(ctx, "submit_talk", func(ctx context.Context) error {
		talk := model.Talk{
			Title:     cmd.Title,
			Presenter: cmd.Presenter,
			Summary:   cmd.Summary,
			Comments:  []model.Comment{},
		}
		if err := s.store.Save(ctx, talk); err != nil {
			return err
		}
		s.notifier.NotifyChanged(ctx)
		return nil
	})
	if err != nil {
		return model.CommandStatus{}, fmt.Errorf("submit talk %q: %w", cmd.Title, err)
	}
	return model.Success(), nil
}

// AddComment 向已存在的 Talk 追加评论；Talk 不存在时返回失败状态，不通知。
func (s *TalksService) AddComment(ctx context.Context, cmd model.AddCommentCommand) (model.CommandStatus, error) {
	s.logger.Printf("[TalksService] Add comment: title=%q author=%q", cmd.Title, cmd.Comment.Author)

	status := model.Success()
	err := s.loop.Do(ctx, "add_comment", func(ctx context.Context) error {
		talk, err := s.store.FindByTitle(ctx, cmd.Title)
		if errors.Is(err, talks.ErrNotFound) {
			status = model.Failure("The comment cannot be added because the talk %q does not exist.", cmd.Title)
			return nil
		}
		if err != nil {
			return err
		}

		talk.Comments = append(talk.Comments, cmd.Comment)
		if err := s.store.Save(ctx, talk); err != nil {
			return err
		}
		s.notifier.NotifyChanged(ctx)
		return nil
	})
	if err != nil {
		return model.CommandStatus{}, fmt.Errorf("add comment to %q: %w", cmd.Title, err)
	}
	if !status.IsSuccess {
		s.logger.Printf("[TalksService] ⚠️  %s", status.ErrorMessage)
	}
	return status, nil
}

// DeleteTalk 删除 Talk；目标不存在同样视为成功，但不会推进版本号。
func (s *TalksService) DeleteTalk(ctx context.Context, cmd model.DeleteTalkCommand) (model.CommandStatus, error) {
	s.logger.Printf("[TalksService] Delete talk: title=%q", cmd.Title)

	err := s.loop.Do(ctx, "delete_talk", func(ctx context.Context) error {
		removed, err := s.store.DeleteByTitle(ctx, cmd.Title)
		if err != nil {
			return err
		}
		if removed {
			s.notifier.NotifyChanged(ctx)
		}
		return nil
	})
	if err != nil {
		return model.CommandStatus{}, fmt.Errorf("delete talk %q: %w", cmd.Title, err)
	}
	return model.Success(), nil
}

// QueryTalks 查询全部或单个 Talk；读不经过 CommandLoop。
func (s *TalksService) QueryTalks(ctx context.Context, q model.TalksQuery) (model.TalksQueryResult, error) {
	if q.Title == "" {
		all, err := s.store.FindAll(ctx)
		if err != nil {
			return model.TalksQueryResult{}, fmt.Errorf("query talks: %w", err)
		}
		return model.TalksQueryResult{Talks: all}, nil
	}

	talk, err := s.store.FindByTitle(ctx, q.Title)
	if errors.Is(err, talks.ErrNotFound) {
		return model.TalksQueryResult{Talks: []model.Talk{}}, nil
	}
	if err != nil {
		return model.TalksQueryResult{}, fmt.Errorf("query talk %q: %w", q.Title, err)
	}
	return model.TalksQueryResult{Talks: []model.Talk{talk}}, nil
}
