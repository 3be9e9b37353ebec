package talks

import (
	"context"
	"errors"

	"skill-sharing/server/internal/model"
)

var ErrNotFound = errors.New("talk not found")

// Store 是 Talk 的持久化抽象，以 Title 为键。
//
// 约定：
// - FindAll 按首次提交顺序返回，覆盖写不改变位置。
// - 存储不存在（首次启动）等价于空集合；存储损坏必须返回 error。
// - 返回值均为副本，调用方可以随意修改。
type Store interface {
	FindAll(ctx context.Context) ([]model.Talk, error)
	FindByTitle(ctx context.Context, title string) (model.Talk, error)
	Save(ctx context.Context, talk model.Talk) error
	// DeleteByTitle 返回是否真的删除了记录。
	DeleteByTitle(ctx context.Context, title string) (bool, error)
}
