package evaluation

import (
	"math"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestMetrics(t *testing.T) {
	convey.Convey("Given observed pollutant values", t, func() {
		yTrue := []float64{10, 20, 30, 40, 50}

		convey.Convey("When the prediction is perfect", func() {
			convey.Convey("Then error metrics are zero and agreement metrics are ideal", func() {
				for name, want := range map[string]float64{
					RMSE: 0, NRMSE: 0, MAE: 0, MBE: 0, MABE: 0, NMBE: 0, FB: 0, FGE: 0,
					R2: 1, Willmott: 1, Pearson: 1, Spearman: 1, Factor2: 100,
				} {
					got, err := Compute(name, yTrue, yTrue)
					convey.So(err, convey.ShouldBeNil)
					convey.So(got, convey.ShouldAlmostEqual, want, 1e-9)
				}
			})
		})

		convey.Convey("When the prediction is offset by a constant", func() {
			yPred := []float64{15, 25, 35, 45, 55}

			convey.Convey("Then bias and error metrics reflect the offset", func() {
				v, _ := Compute(RMSE, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 5, 1e-9)
				v, _ = Compute(NRMSE, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 5.0/40, 1e-9)
				v, _ = Compute(MAE, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 5, 1e-9)
				v, _ = Compute(MBE, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, -5, 1e-9)
				v, _ = Compute(NMBE, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, -5.0/30*100, 1e-6)
				v, _ = Compute(FB, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 2*5.0/65, 1e-9)
				v, _ = Compute(R2, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 1-125.0/1000, 1e-9)
			})

			convey.Convey("And correlation is unaffected", func() {
				v, _ := Compute(Pearson, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 1, 1e-9)
				v, _ = Compute(Spearman, yTrue, yPred)
				convey.So(v, convey.ShouldAlmostEqual, 1, 1e-9)
			})
		})

		convey.Convey("When lengths differ", func() {
			convey.Convey("Then every metric reports a configuration error", func() {
				for _, name := range Names() {
					_, err := Compute(name, yTrue, yTrue[:3])
					convey.So(err, convey.ShouldWrap, ErrConfiguration)
				}
			})
		})

		convey.Convey("When the metric name is unknown", func() {
			_, err := Compute("mape", yTrue, yTrue)
			convey.So(err, convey.ShouldWrap, ErrConfiguration)
		})
	})

	convey.Convey("Given degenerate inputs", t, func() {
		constant := []float64{7, 7, 7, 7}
		zeros := []float64{0, 0, 0, 0}
		varied := []float64{1, 9, 3, 5}

		convey.Convey("Then no metric produces NaN or Inf", func() {
			pairs := [][2][]float64{
				{constant, constant},
				{constant, varied},
				{varied, constant},
				{zeros, zeros},
				{zeros, varied},
			}
			for _, pair := range pairs {
				for _, name := range Names() {
					v, err := Compute(name, pair[0], pair[1])
					convey.So(err, convey.ShouldBeNil)
					convey.So(math.IsNaN(v) || math.IsInf(v, 0), convey.ShouldBeFalse)
				}
			}
		})

		convey.Convey("Then constant observations matched exactly are a perfect fit", func() {
			v, _ := Compute(R2, constant, constant)
			convey.So(v, convey.ShouldEqual, 1)
			v, _ = Compute(Willmott, constant, constant)
			convey.So(v, convey.ShouldEqual, 1)
			v, _ = Compute(Pearson, constant, constant)
			convey.So(v, convey.ShouldEqual, 0)
		})
	})
}

func TestRank(t *testing.T) {
	convey.Convey("Ties share the average of their ranks", t, func() {
		convey.So(rank([]float64{3, 1, 3, 2}), convey.ShouldResemble, []float64{3.5, 1, 3.5, 2})
	})
}
