package domain

// Trade es el registro persistido de una operación, abierta o cerrada.
// Idempotente sobre (RunID, ConfigID, OpenedTs, Side, Entry).
type Trade struct {
	ID       string
	RunID    string
	ConfigID string

	Side     Side
	Entry    float64
	Size     float64
	StopLoss float64
	TakeProf float64
	OpenedTs int64

	ClosedTs *int64
	Exit     *float64
	PnLPct   *float64
	PnLAbs   *float64
	FeesAbs  *float64
	Result   *TradeResult

	Meta map[string]string // exit_reason, trigger, mfe/mae, etc.
}

// Closed devuelve true si el trade ya tiene exit registrado.
func (t Trade) Closed() bool {
	return t.ClosedTs != nil
}

// DurationMin devuelve la duración en minutos, o 0 si sigue abierto.
func (t Trade) DurationMin() float64 {
	if t.ClosedTs == nil {
		return 0
	}
	return float64(*t.ClosedTs-t.OpenedTs) / 60_000
}
