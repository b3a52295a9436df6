package models

// BloomOrder lists the six cognitive levels, lowest first. One learning unit
// is generated per origin per level; labels match the source data.
var BloomOrder = []string{"Lembrar", "Entender", "Aplicar", "Analisar", "Avaliar", "Criar"}

// BloomIndex returns the position of a level in BloomOrder, or -1 for an
// unknown label.
func BloomIndex(level string) int {
	for i, l := range BloomOrder {
		if l == level {
			return i
		}
	}
	return -1
}
