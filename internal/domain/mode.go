package domain

// Mode 聊天会话的临时状态。
//
// 状态只保存在进程内存中，不持久化。
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingReuseID
	ModeAwaitingRenameInput
	ModeAwaitingDeleteID
)

// String 返回状态名称，用于日志
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAwaitingReuseID:
		return "awaiting_reuse_id"
	case ModeAwaitingRenameInput:
		return "awaiting_rename_input"
	case ModeAwaitingDeleteID:
		return "awaiting_delete_id"
	default:
		return "unknown"
	}
}

// Pending 判断是否有等待用户输入的操作
func (m Mode) Pending() bool {
	return m != ModeIdle
}
