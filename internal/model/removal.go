package model

// RemovalResult は削除操作の結果を表す。
// 主作用（DB行の削除）が成功した場合のみ返され、
// ファイル削除などベストエフォートの後始末の失敗はCleanupに格納される。
type RemovalResult struct {
	Cleanup error
}

// OK は後始末も含めて全て成功したかを返す。
func (r RemovalResult) OK() bool {
	return r.Cleanup == nil
}

// CleanupFailed は主作用は成功したが後始末に失敗したかを返す。
func (r RemovalResult) CleanupFailed() bool {
	return r.Cleanup != nil
}
