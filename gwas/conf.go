package gwas

// Semantic dimension names and the axis they occupy in a conformed array.
var dimAxis = map[string]int{
	"sample":    0,
	"trait":     1,
	"candidate": 1,
	"covariate": 1,
	"sample_0":  0,
	"sample_1":  1,
}

// Expected (row, column) dimensions per input role.
var dataDims = map[string][2]string{
	"trait":      {"sample", "trait"},
	"genotype":   {"sample", "candidate"},
	"covariate":  {"sample", "covariate"},
	"covariance": {"sample_0", "sample_1"},
	"trials":     {"sample", "trait"},
}

// Input roles in the order they are visited when picking the sample order.
// Trial counts are not among them: they follow the outcome and never narrow
// the sample index.
var roleOrder = []string{"trait", "covariate", "genotype", "covariance"}
