package optimizer

import "github.com/alejandrodnm/perpbot/internal/domain"

// Knobs por defecto del grid. Los valores fijos (fees, slippage, riesgo
// mínimo, timeout) vienen del entorno de ejecución real y no se optimizan.
var (
	alignValues   = []bool{false, true}
	triggerValues = []domain.EntryTrigger{domain.TriggerCHoCH, domain.TriggerBOS, domain.TriggerEither}
	rrValues      = []float64{1.5, 2.0, 2.5}
	slbValues     = []float64{0.2, 0.3}
)

const (
	fixedTakerFeeBps = 5
	fixedSlippageBps = 2
	fixedMinRiskPct  = 0.001
	fixedTimeoutMin  = 0
)

// GenerateGrid produce el producto cartesiano de los knobs con dos podas:
//   - require_5m_align ∧ require_60m_align: demasiado restrictivo.
//   - trigger=choch ∧ require_5m_align: redundante (el CHoCH de 1m ya
//     implica giro reciente; exigir 5m alineado apenas deja señales).
func GenerateGrid() []domain.StrategyConfig {
	var out []domain.StrategyConfig
	for _, r5 := range alignValues {
		for _, r60 := range alignValues {
			if r5 && r60 {
				continue
			}
			for _, trigger := range triggerValues {
				if trigger == domain.TriggerCHoCH && r5 {
					continue
				}
				for _, rr := range rrValues {
					for _, slb := range slbValues {
						out = append(out, domain.StrategyConfig{
							Require5mAlign:  r5,
							Require60mAlign: r60,
							EntryTrigger:    trigger,
							RRTarget:        rr,
							TimeoutMin:      fixedTimeoutMin,
							SLATRBuffer:     slb,
							MinRiskPct:      fixedMinRiskPct,
							TakerFeeBps:     fixedTakerFeeBps,
							SlippageBps:     fixedSlippageBps,
						})
					}
				}
			}
		}
	}
	return out
}
