package timeutil

// timeutil — toda la aritmética de timestamps del sistema pasa por aquí.
//
// Representación canónica: epoch en milisegundos UTC (int64). Los strings ISO
// son solo un formato de presentación; la normalización de entradas mixtas
// (ISO / ms / segundos) ocurre una única vez en el borde (NormalizeTimestamp).

import (
	"fmt"
	"time"
)

const (
	// MinuteMs es un minuto en milisegundos.
	MinuteMs int64 = 60_000
	// DayMs es un día en milisegundos.
	DayMs int64 = 24 * 60 * MinuteMs

	// Límite bajo el cual un valor numérico se interpreta como segundos
	// y no como milisegundos (10^11 ms ≈ año 5138; 10^11 s no existe).
	secondsThreshold int64 = 100_000_000_000
)

// FloorMinutes redondea ts (epoch ms) hacia abajo al múltiplo de tfMin minutos.
func FloorMinutes(ts int64, tfMin int) int64 {
	step := int64(tfMin) * MinuteMs
	return ts - (ts % step)
}

// AddMinutes suma n minutos a ts (epoch ms).
func AddMinutes(ts int64, n int) int64 {
	return ts + int64(n)*MinuteMs
}

// AddDays suma n días a ts (epoch ms).
func AddDays(ts int64, n int) int64 {
	return ts + int64(n)*DayMs
}

// EndOfDay devuelve las 23:59:00.000Z del mismo día UTC de ts.
func EndOfDay(ts int64) int64 {
	t := time.UnixMilli(ts).UTC()
	eod := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, time.UTC)
	return eod.UnixMilli()
}

// FormatISO renderiza ts (epoch ms) como ISO 8601 UTC con milisegundos.
func FormatISO(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("2006-01-02T15:04:05.000Z")
}

// ParseISO parsea un string ISO/RFC3339 a epoch ms.
func ParseISO(s string) (int64, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("timeutil.ParseISO: unparseable timestamp %q", s)
}

// NormalizeTimestamp acepta ISO string, epoch ms o epoch segundos y devuelve
// epoch ms. Los valores numéricos < 10^11 se interpretan como segundos.
func NormalizeTimestamp(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return ParseISO(x)
	case int64:
		return normalizeEpoch(x), nil
	case int:
		return normalizeEpoch(int64(x)), nil
	case float64:
		return normalizeEpoch(int64(x)), nil
	default:
		return 0, fmt.Errorf("timeutil.NormalizeTimestamp: unsupported type %T", v)
	}
}

func normalizeEpoch(n int64) int64 {
	if n < secondsThreshold {
		return n * 1000
	}
	return n
}

// ValidYear indica si el año UTC de ts está en el rango [2009, 2100].
// Fuera de ese rango el timestamp se considera basura del exchange.
func ValidYear(ts int64) bool {
	y := time.UnixMilli(ts).UTC().Year()
	return y >= 2009 && y <= 2100
}
