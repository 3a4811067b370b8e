package cors

import "strings"

const Wildcard = "*"

// AllowedOriginSet é a lista de padrões configurada no boot. Imutável.
type AllowedOriginSet struct {
	patterns []string
	wildcard bool
}

// NewAllowedOriginSet copia os padrões na ordem recebida, descartando entradas
// em branco (substring vazia casaria com qualquer origem).
func NewAllowedOriginSet(patterns []string) AllowedOriginSet {
	s := AllowedOriginSet{patterns: make([]string, 0, len(patterns))}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if p == Wildcard {
			s.wildcard = true
		}
		s.patterns = append(s.patterns, p)
	}
	return s
}

// ParseAllowedOrigins lê uma lista separada por vírgula (ex: variável de ambiente).
func ParseAllowedOrigins(csv string) AllowedOriginSet {
	return NewAllowedOriginSet(strings.Split(csv, ","))
}

func (s AllowedOriginSet) Wildcard() bool { return s.wildcard }

func (s AllowedOriginSet) Empty() bool { return len(s.patterns) == 0 }

func (s AllowedOriginSet) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

func (s AllowedOriginSet) String() string { return strings.Join(s.patterns, ",") }

// Decision é o resultado único da avaliação de origem.
type Decision struct {
	Allowed bool
	// AllowOrigin é o valor de Access-Control-Allow-Origin ("*" ou a origem ecoada).
	AllowOrigin string
	// Credentials indica Access-Control-Allow-Credentials: true.
	Credentials bool
	// Reflected indica que a resposta depende da origem (Vary: Origin).
	Reflected bool
}

// Evaluate decide a origem sem efeitos colaterais. origin == "" significa sem header.
func Evaluate(allow AllowedOriginSet, origin string) Decision {
	if allow.wildcard {
		return Decision{Allowed: true, AllowOrigin: Wildcard}
	}
	if origin == "" {
		return Decision{}
	}
	for _, p := range allow.patterns {
		if strings.Contains(origin, p) {
			return Decision{Allowed: true, AllowOrigin: origin, Reflected: true}
		}
	}
	return Decision{}
}
