package mapping

import (
	"sort"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

const (
	scoreExact      = 1.0
	scoreNormalized = 0.95
	bonusPrimaryKey = 0.1
	bonusSameType   = 0.05
)

// DefaultMinConfidence - порог автоподбора по умолчанию
const DefaultMinConfidence = 0.6

// Suggestion - результат автоподбора: принятые пары таблиц с колонками
type Suggestion struct {
	Tables []TableMapping `json:"tableMappings" yaml:"tables"`

	// UnmatchedSource - таблицы источника без пары
	UnmatchedSource []string `json:"unmatchedSource,omitempty" yaml:"unmatched_source,omitempty"`
}

// Suggester подбирает соответствия по именам и типам
type Suggester struct {
	Matrix *transform.Matrix
}

// Suggest подбирает соответствия таблиц, затем колонок внутри принятых пар
func Suggest(src, dst *schema.Database, minConfidence float64) Suggestion {
	s := Suggester{Matrix: transform.DefaultMatrix()}
	return s.Suggest(src, dst, minConfidence)
}

// Suggest - см. пакетную функцию Suggest
func (s Suggester) Suggest(src, dst *schema.Database, minConfidence float64) Suggestion {
	var out Suggestion

	srcNames := make([]entity, len(src.Tables))
	for i, t := range src.Tables {
		srcNames[i] = entity{name: t.Name}
	}
	dstNames := make([]entity, len(dst.Tables))
	for i, t := range dst.Tables {
		dstNames[i] = entity{name: t.Name}
	}

	matched := make(map[int]bool)
	for _, p := range greedy(srcNames, dstNames, minConfidence) {
		matched[p.src] = true
		st, dt := src.Tables[p.src], dst.Tables[p.dst]
		tm := TableMapping{
			ID:           st.Name,
			SourceTable:  st.Name,
			SourceSchema: st.Schema,
			TargetTable:  dt.Name,
			TargetSchema: dt.Schema,
			Confidence:   p.score,
			Columns:      s.columns(src.Kind, dst.Kind, st, dt, minConfidence),
		}
		out.Tables = append(out.Tables, tm)
	}

	for i, t := range src.Tables {
		if !matched[i] {
			out.UnmatchedSource = append(out.UnmatchedSource, t.Name)
		}
	}

	sort.SliceStable(out.Tables, func(i, j int) bool { return out.Tables[i].SourceTable < out.Tables[j].SourceTable })
	for i := range out.Tables {
		out.Tables[i].LoadOrder = i + 1
	}
	return out
}

func (s Suggester) columns(srcKind, dstKind schema.EngineKind, st, dt schema.Table, minConfidence float64) []ColumnMapping {
	srcCols := make([]entity, len(st.Columns))
	for i, c := range st.Columns {
		srcCols[i] = entity{name: c.Name, pk: c.IsPrimaryKey, declared: c.DataType}
	}
	dstCols := make([]entity, len(dt.Columns))
	for i, c := range dt.Columns {
		dstCols[i] = entity{name: c.Name, pk: c.IsPrimaryKey, declared: c.DataType}
	}

	pairs := greedy(srcCols, dstCols, minConfidence)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].src < pairs[j].src })

	out := make([]ColumnMapping, 0, len(pairs))
	for _, p := range pairs {
		sc, dc := st.Columns[p.src], dt.Columns[p.dst]
		cm := ColumnMapping{
			SourceColumn: sc.Name,
			TargetColumn: dc.Name,
			SourceType:   sc.Type,
			TargetType:   dc.Type,
			Nullable:     dc.Nullable,
			IsPrimaryKey: sc.IsPrimaryKey,
			DefaultValue: dc.Default,
			Confidence:   p.score,
		}
		if s.Matrix != nil {
			c := s.Matrix.Lookup(srcKind, dstKind, sc.Type)
			target := dc.Type
			if target == "" {
				target = c.TargetType
			}
			if c.RequiresTransformation || c.TargetType != target {
				cm.Transformation = &transform.Config{Type: transform.KindTypeConversion, TargetType: target}
			}
		}
		out = append(out, cm)
	}
	return out
}

type entity struct {
	name     string
	pk       bool
	declared string
}

type pair struct {
	src, dst int
	score    float64
}

// greedy сортирует все пары по убыванию оценки и берет лучшую свободную цель
// для каждого источника. Не глобальный оптимум.
func greedy(src, dst []entity, minConfidence float64) []pair {
	all := make([]pair, 0, len(src)*len(dst))
	for i, s := range src {
		for j, d := range dst {
			all = append(all, pair{src: i, dst: j, score: Score(s.name, d.name, s.pk && d.pk, sameType(s.declared, d.declared))})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	usedSrc := make(map[int]bool)
	usedDst := make(map[int]bool)
	var out []pair
	for _, p := range all {
		if p.score < minConfidence {
			break
		}
		if usedSrc[p.src] || usedDst[p.dst] {
			continue
		}
		usedSrc[p.src] = true
		usedDst[p.dst] = true
		out = append(out, p)
	}
	return out
}

func sameType(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// Score оценивает сходство двух имен с бонусами за ключ и тип, максимум 1.0
func Score(a, b string, bothPK, sameDeclaredType bool) float64 {
	var score float64
	na, nb := Normalize(a), Normalize(b)
	switch {
	case a == b:
		score = scoreExact
	case na == nb:
		score = scoreNormalized
	default:
		score = similarity(na, nb)
	}

	if bothPK {
		score += bonusPrimaryKey
	}
	if sameDeclaredType {
		score += bonusSameType
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Normalize убирает квалификатор схемы, хвост _id/_key, разделители и регистр
func Normalize(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	lower := strings.ToLower(name)
	for _, suffix := range []string{"_id", "_key"} {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			lower = lower[:len(lower)-len(suffix)]
			break
		}
	}

	var b strings.Builder
	for _, r := range lower {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// similarity = 1 - levenshtein/maxLen
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
