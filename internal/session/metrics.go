package session

import (
	"time"

	"github.com/hitoshi/simplyconnect/internal/model"
)

// Recorder はセッションコントローラーのメトリクス記録先。
type Recorder interface {
	// RecordTransition はステータス遷移を記録する。
	RecordTransition(from, to model.SessionStatus)
	// RecordResolution は解決処理の結果と所要時間を記録する。
	RecordResolution(outcome string, d time.Duration)
	// RecordStaleDiscard は後続のイベントにより破棄された解決結果を記録する。
	RecordStaleDiscard()
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(model.SessionStatus, model.SessionStatus) {}
func (noopRecorder) RecordResolution(string, time.Duration)                   {}
func (noopRecorder) RecordStaleDiscard()                                      {}
