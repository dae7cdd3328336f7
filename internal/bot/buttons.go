package bot

// 菜单按钮文本，用户点击按钮时发送的就是这些文本
const (
	BtnNew     = "📧 Generate new mail"
	BtnCurrent = "📌 Current mail"
	BtnDelete  = "🗑️ Remove current mail"

	BtnList        = "📜 My saved mails"
	BtnReuse       = "♻️ Reuse a mail"
	BtnRename      = "✏️ Rename a mail"
	BtnDeleteSaved = "🧨 Delete saved mail"

	BtnHelp = "❓ Help / Contact"
	BtnBack = "⬅️ Back to menu"

	CmdStart = "/start"
)

// Keyboard 回复附带的自定义键盘
type Keyboard int

const (
	// KeyboardMain 主菜单
	KeyboardMain Keyboard = iota
	// KeyboardBack 等待输入时只保留返回按钮
	KeyboardBack
)

var (
	mainRows = [][]string{
		{BtnNew, BtnCurrent},
		{BtnList, BtnReuse},
		{BtnRename, BtnDeleteSaved},
		{BtnDelete, BtnHelp},
	}
	backRows = [][]string{
		{BtnBack},
	}
)

// Rows 返回键盘按钮布局
func (k Keyboard) Rows() [][]string {
	if k == KeyboardBack {
		return backRows
	}
	return mainRows
}
