package gwas

import (
	"strconv"

	"github.com/hhcho/lmm-scan/lmm"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Dataset holds inputs aligned on a common sample index. It is built once by
// ConformDataset and owns copies of the caller's data.
type Dataset struct {
	Y      *mat.VecDense
	M      *mat.Dense
	G      *mat.Dense
	K      *mat.SymDense // nil without a random effect
	Trials []float64     // nil unless the outcome is binomial

	Samples    []string
	Covariates []string
	Candidates []string
}

// NumSamples returns the size of the common sample index.
func (d *Dataset) NumSamples() int {
	return len(d.Samples)
}

func (d *Dataset) NumCandidates() int {
	return len(d.Candidates)
}

type conformInput struct {
	role    string
	data    *mat.Dense
	samples []string
	labels  []string
}

// orient copies the array into sample-major layout, transposing it when its
// declared dimensions are the reverse of the role's.
func orient(role string, a *Array) (*conformInput, error) {
	want := dataDims[role]
	transpose := false
	if a.Dims != nil {
		if len(a.Dims) != 2 {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s: %d dimensions declared, want 2", role, len(a.Dims))
		}
		for _, d := range a.Dims {
			if _, ok := dimAxis[d]; !ok {
				return nil, errors.Wrapf(ErrDimensionMismatch, "%s: unknown dimension %q", role, d)
			}
		}
		same := a.Dims[0] == want[0] && a.Dims[1] == want[1]
		reversed := a.Dims[0] == want[1] && a.Dims[1] == want[0]
		if !same && !reversed {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s: dimensions %v, want %v", role, a.Dims, want)
		}
		// The first declared dimension must land on axis 0.
		transpose = dimAxis[a.Dims[0]] != 0
	}
	if a.Data == nil {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%s: no data", role)
	}

	var data *mat.Dense
	if transpose {
		data = mat.DenseCopyOf(a.Data.T())
	} else {
		data = mat.DenseCopyOf(a.Data)
	}
	r, c := data.Dims()
	in := &conformInput{role: role, data: data, samples: a.Samples, labels: a.Labels}

	if in.samples != nil {
		if len(in.samples) != r || (role == "covariance" && len(in.samples) != c) {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s: %d sample labels for a %dx%d array", role, len(in.samples), r, c)
		}
		if err := checkUnique(role, in.samples); err != nil {
			return nil, err
		}
	}
	if in.labels != nil {
		if role == "covariance" {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s: both axes are labelled by samples", role)
		}
		if len(in.labels) != c {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s: %d labels for %d columns", role, len(in.labels), c)
		}
		if err := checkUnique(role, in.labels); err != nil {
			return nil, err
		}
	}
	if role == "covariance" && r != c {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%s: %dx%d is not square", role, r, c)
	}
	return in, nil
}

func checkUnique(role string, labels []string) error {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			return errors.Wrapf(ErrDimensionMismatch, "%s: duplicate label %q", role, l)
		}
		seen[l] = struct{}{}
	}
	return nil
}

// sampleIndex returns the common sample labels in the order of the first
// labelled input.
func sampleIndex(inputs []*conformInput) ([]string, error) {
	var ref *conformInput
	for _, in := range inputs {
		if in.samples != nil {
			ref = in
			break
		}
	}
	if ref == nil {
		n, _ := inputs[0].data.Dims()
		for _, in := range inputs[1:] {
			if r, _ := in.data.Dims(); r != n {
				return nil, errors.Wrapf(ErrDimensionMismatch, "%s has %d samples, %s has %d", in.role, r, inputs[0].role, n)
			}
		}
		samples := make([]string, n)
		for i := range samples {
			samples[i] = strconv.Itoa(i)
		}
		for _, in := range inputs {
			in.samples = samples
		}
		return samples, nil
	}

	for _, in := range inputs {
		if in.samples != nil {
			continue
		}
		if r, _ := in.data.Dims(); r != len(ref.samples) {
			return nil, errors.Wrapf(ErrDimensionMismatch, "unlabelled %s has %d samples, %s has %d", in.role, r, ref.role, len(ref.samples))
		}
		in.samples = ref.samples
	}

	var index []string
	for _, s := range ref.samples {
		shared := true
		for _, in := range inputs {
			if in != ref && !contains(in.samples, s) {
				shared = false
				break
			}
		}
		if shared {
			index = append(index, s)
		}
	}
	if len(index) == 0 {
		return nil, errors.Wrap(ErrDimensionMismatch, "inputs share no samples")
	}
	return index, nil
}

func contains(labels []string, s string) bool {
	for _, l := range labels {
		if l == s {
			return true
		}
	}
	return false
}

// align reorders the sample rows of an input (and columns of a covariance)
// to follow index.
func (in *conformInput) align(index []string) *mat.Dense {
	pos := make(map[string]int, len(in.samples))
	for i, s := range in.samples {
		pos[s] = i
	}
	rows := make([]int, len(index))
	identity := len(index) == len(in.samples)
	for i, s := range index {
		rows[i] = pos[s]
		identity = identity && rows[i] == i
	}
	if identity {
		return in.data
	}

	_, c := in.data.Dims()
	if in.role == "covariance" {
		out := mat.NewDense(len(rows), len(rows), nil)
		for i, ri := range rows {
			for j, rj := range rows {
				out.Set(i, j, in.data.At(ri, rj))
			}
		}
		return out
	}
	out := mat.NewDense(len(rows), c, nil)
	for i, ri := range rows {
		out.SetRow(i, in.data.RawRowView(ri))
	}
	return out
}

func columnLabels(labels []string, c int) []string {
	if labels != nil {
		return append([]string(nil), labels...)
	}
	out := make([]string, c)
	for j := range out {
		out[j] = strconv.Itoa(j)
	}
	return out
}

// ConformDataset aligns the outcome, covariates, candidates and covariance on
// the samples they share. M and K may be nil, as may trials unless the
// likelihood is binomial. Trial counts must cover exactly the outcome's
// samples and are then carried onto the common index. Without covariates an
// intercept column labelled "offset" is used.
func ConformDataset(y, M, G, K, trials *Array) (*Dataset, error) {
	if y == nil || G == nil {
		return nil, errors.Wrap(ErrDimensionMismatch, "outcome and candidates are required")
	}
	given := map[string]*Array{"trait": y, "covariate": M, "genotype": G, "covariance": K}

	var inputs []*conformInput
	byRole := make(map[string]*conformInput)
	for _, role := range roleOrder {
		a := given[role]
		if a == nil {
			continue
		}
		in, err := orient(role, a)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		byRole[role] = in
	}

	index, err := sampleIndex(inputs)
	if err != nil {
		return nil, err
	}
	n := len(index)
	ds := &Dataset{Samples: index}

	yIn := byRole["trait"]
	if _, c := yIn.data.Dims(); c != 1 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "outcome has %d traits, want 1", c)
	}
	ds.Y = mat.VecDenseCopyOf(yIn.align(index).ColView(0))

	if in, ok := byRole["covariate"]; ok {
		ds.M = in.align(index)
		_, c := ds.M.Dims()
		ds.Covariates = columnLabels(in.labels, c)
	} else {
		ds.M = lmm.GenerateOnes(1, n, 1)
		ds.Covariates = []string{"offset"}
	}

	gIn := byRole["genotype"]
	ds.G = gIn.align(index)
	_, m := ds.G.Dims()
	ds.Candidates = columnLabels(gIn.labels, m)

	if in, ok := byRole["covariance"]; ok {
		k := in.align(index)
		ds.K = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				ds.K.SetSym(i, j, 0.5*(k.At(i, j)+k.At(j, i)))
			}
		}
	}

	if trials != nil {
		if ds.Trials, err = conformTrials(trials, yIn, index); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// conformTrials matches the trial counts to the outcome's own samples, by
// position when unlabelled and by label otherwise, then aligns them on index.
func conformTrials(trials *Array, yIn *conformInput, index []string) ([]float64, error) {
	in, err := orient("trials", trials)
	if err != nil {
		return nil, err
	}
	r, c := in.data.Dims()
	if c != 1 {
		return nil, errors.Wrapf(ErrDimensionMismatch, "trial counts have %d columns, want 1", c)
	}
	if r != len(yIn.samples) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%d trial counts for %d outcomes", r, len(yIn.samples))
	}
	if !trials.labelled() {
		in.samples = yIn.samples
	} else {
		for _, s := range yIn.samples {
			if !contains(in.samples, s) {
				return nil, errors.Wrapf(ErrDimensionMismatch, "no trial count for sample %q", s)
			}
		}
	}
	return mat.Col(nil, 0, in.align(index)), nil
}
