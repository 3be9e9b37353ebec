package model

import "fmt"

// Talk 是一次分享的完整记录，以 Title 作为唯一键。
type Talk struct {
	Title     string    `json:"title"`
	Presenter string    `json:"presenter"`
	Summary   string    `json:"summary"`
	Comments  []Comment `json:"comments"`
}

// Comment 表示挂在某个 Talk 下的一条评论。
type Comment struct {
	Author  string `json:"author"`
	Message string `json:"message"`
}

// Normalize 补齐零值字段，保证 comments 序列化为 [] 而不是 null。
func (t Talk) Normalize() Talk {
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	return t
}

// Clone 深拷贝 Talk，避免调用方修改存储内部的评论切片。
func (t Talk) Clone() Talk {
	out := t
	out.Comments = make([]Comment, len(t.Comments))
	copy(out.Comments, t.Comments)
	return out
}

// SubmitTalkCommand 新增或覆盖一个 Talk。
type SubmitTalkCommand struct {
	Title     string `json:"title"`
	Presenter string `json:"presenter"`
	Summary   string `json:"summary"`
}

// AddCommentCommand 向已存在的 Talk 追加评论。
type AddCommentCommand struct {
	Title   string  `json:"title"`
	Comment Comment `json:"comment"`
}

// DeleteTalkCommand 删除一个 Talk；目标不存在时也视为成功。
type DeleteTalkCommand struct {
	Title string `json:"title"`
}

// TalksQuery 为空 Title 时查询全部，否则只查单个。
type TalksQuery struct {
	Title string `json:"title,omitempty"`
}

// TalksQueryResult 查询结果。
type TalksQueryResult struct {
	Talks []Talk `json:"talks"`
}

// CommandStatus 是命令执行的结构化结果，业务失败不走 error。
type CommandStatus struct {
	IsSuccess    bool   `json:"isSuccess"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func Success() CommandStatus {
	return CommandStatus{IsSuccess: true}
}

func Failure(format string, args ...any) CommandStatus {
	return CommandStatus{IsSuccess: false, ErrorMessage: fmt.Sprintf(format, args...)}
}
