package sim_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jregier/n1sim/internal/dropout"
	"github.com/jregier/n1sim/internal/sim"
	"github.com/jregier/n1sim/internal/study"
)

const lowBackPainDoc = `{
  "exposures": {
    "Treatment_1": {"gamma": 4, "tau": 7, "treatment_effect": -2},
    "Treatment_2": {"gamma": 3, "tau": 5, "treatment_effect": -3}
  },
  "outcome": {
    "name": "Uncertain_Low_Back_Pain",
    "X_0": 12,
    "sigma_b": 1,
    "sigma_0": 1,
    "boundaries": [0, 15],
    "round": true
  },
  "variables": {
    "Activity": {"distribution": "normal", "mean": 6000, "std": 2000, "boundaries": [0, null]}
  },
  "dependencies": {
    "Activity -> Uncertain_Low_Back_Pain": -0.00005,
    "Treatment_1 -> Uncertain_Low_Back_Pain": 1,
    "Treatment_2 -> Uncertain_Low_Back_Pain": 1
  },
  "over_time_dependencies": {
    "Uncertain_Low_Back_Pain": {"Activity": [-0.001, -0.0001]},
    "Activity": {"Uncertain_Low_Back_Pain": [-600, -400, -300]}
  }
}`

// Same study without any over-time edges, for the day-0 lag check.
const lowBackPainNoLagDoc = `{
  "exposures": {
    "Treatment_1": {"gamma": 4, "tau": 7, "treatment_effect": -2},
    "Treatment_2": {"gamma": 3, "tau": 5, "treatment_effect": -3}
  },
  "outcome": {
    "name": "Uncertain_Low_Back_Pain",
    "X_0": 12,
    "sigma_b": 1,
    "sigma_0": 1,
    "boundaries": [0, 15],
    "round": true
  },
  "variables": {
    "Activity": {"distribution": "normal", "mean": 6000, "std": 2000, "boundaries": [0, null]}
  },
  "dependencies": {
    "Activity -> Uncertain_Low_Back_Pain": -0.00005,
    "Treatment_1 -> Uncertain_Low_Back_Pain": 1,
    "Treatment_2 -> Uncertain_Low_Back_Pain": 1
  }
}`

var _ = Describe("Generate", func() {
	var (
		params *study.Parameters
		opts   sim.Options
	)

	BeforeEach(func() {
		var err error
		params, err = study.Load([]byte(lowBackPainDoc))
		Expect(err).NotTo(HaveOccurred())

		opts = sim.Options{
			Design: study.Design{
				{Treatment: "Treatment_1"},
				{Treatment: "Treatment_2"},
			},
			DaysPerPeriod: 14,
			Patients:      3,
			Seed:          42,
		}
	})

	Describe("the two-period low back pain study", func() {
		It("produces exactly 28 day records per patient", func() {
			res, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Complete).To(HaveLen(3))
			for _, traj := range res.Complete {
				Expect(traj.Days).To(HaveLen(28))
			}
		})

		It("keeps every recorded outcome within its boundaries", func() {
			res, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			for _, traj := range res.Complete {
				for _, rec := range traj.Days {
					y := rec.Values["Uncertain_Low_Back_Pain"]
					Expect(y).To(And(BeNumerically(">=", 0), BeNumerically("<=", 15)))
					Expect(rec.Values["Activity"]).To(BeNumerically(">=", 0))
				}
			}
		})

		It("labels days, blocks and treatments from the design", func() {
			res, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			traj := res.Complete[0]
			for day, rec := range traj.Days {
				Expect(rec.Day).To(Equal(day))
				if day < 14 {
					Expect(rec.Block).To(Equal(1))
					Expect(rec.Treatment).To(Equal("Treatment_1"))
				} else {
					Expect(rec.Block).To(Equal(2))
					Expect(rec.Treatment).To(Equal("Treatment_2"))
				}
			}
		})

		It("contributes no lag terms on day zero", func() {
			noLag, err := study.Load([]byte(lowBackPainNoLagDoc))
			Expect(err).NotTo(HaveOccurred())

			withRes, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			withoutRes, err := sim.Generate(context.Background(), noLag, opts)
			Expect(err).NotTo(HaveOccurred())

			for p := range withRes.Complete {
				day0 := withRes.Complete[p].Days[0]
				ref := withoutRes.Complete[p].Days[0]
				Expect(day0.Values).To(Equal(ref.Values))
				Expect(day0.Latent).To(Equal(ref.Latent))
			}
		})
	})

	Describe("reproducibility", func() {
		It("is bit-identical for equal seeds", func() {
			a, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			b, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())

			for p := range a.Complete {
				for d := range a.Complete[p].Days {
					Expect(a.Complete[p].Days[d].Values).To(Equal(b.Complete[p].Days[d].Values))
					Expect(a.Complete[p].Days[d].Drift).To(Equal(b.Complete[p].Days[d].Drift))
				}
			}
		})

		It("differs across seeds", func() {
			a, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())

			opts.Seed = 43
			b, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Complete[0].Series("Activity")).NotTo(Equal(b.Complete[0].Series("Activity")))
		})

		It("does not let cohort size disturb earlier patients", func() {
			small := opts
			small.Patients = 1
			a, err := sim.Generate(context.Background(), params, small)
			Expect(err).NotTo(HaveOccurred())

			big := opts
			big.Patients = 5
			b, err := sim.Generate(context.Background(), params, big)
			Expect(err).NotTo(HaveOccurred())

			for d := range a.Complete[0].Days {
				Expect(a.Complete[0].Days[d].Values).To(Equal(b.Complete[0].Days[d].Values))
			}
		})

		It("is independent of the worker count", func() {
			serial := opts
			serial.Workers = 1
			a, err := sim.Generate(context.Background(), params, serial)
			Expect(err).NotTo(HaveOccurred())

			wide := opts
			wide.Workers = 8
			b, err := sim.Generate(context.Background(), params, wide)
			Expect(err).NotTo(HaveOccurred())

			for p := range a.Complete {
				for d := range a.Complete[p].Days {
					Expect(a.Complete[p].Days[d].Values).To(Equal(b.Complete[p].Days[d].Values))
				}
			}
		})
	})

	Describe("dropout", func() {
		It("never changes the complete cohort", func() {
			plain, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())

			withDrop := opts
			withDrop.Dropout = &dropout.Spec{Hazard: 0.15}
			dropped, err := sim.Generate(context.Background(), params, withDrop)
			Expect(err).NotTo(HaveOccurred())

			for p := range plain.Complete {
				for d := range plain.Complete[p].Days {
					Expect(plain.Complete[p].Days[d].Values).To(Equal(dropped.Complete[p].Days[d].Values))
				}
			}
		})

		It("only ever shortens trajectories", func() {
			withDrop := opts
			withDrop.Patients = 20
			withDrop.Dropout = &dropout.Spec{Hazard: 0.15}
			res, err := sim.Generate(context.Background(), params, withDrop)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Dropout).To(HaveLen(20))
			for p, traj := range res.Dropout {
				Expect(len(traj.Days)).To(BeNumerically("<=", len(res.Complete[p].Days)))
				Expect(traj.Days).NotTo(BeEmpty())
			}
		})

		It("reproduces the complete table at hazard zero", func() {
			withDrop := opts
			withDrop.Dropout = &dropout.Spec{}
			res, err := sim.Generate(context.Background(), params, withDrop)
			Expect(err).NotTo(HaveOccurred())

			for p := range res.Complete {
				Expect(res.Dropout[p].Days).To(HaveLen(len(res.Complete[p].Days)))
				for d := range res.Complete[p].Days {
					Expect(res.Dropout[p].Days[d].Values).To(Equal(res.Complete[p].Days[d].Values))
				}
			}
		})
	})

	Describe("degenerate noise settings", func() {
		It("collapses to a deterministic series when every sigma is zero", func() {
			doc := `{
			  "exposures": {"Treatment_1": {"gamma": 4, "tau": 7, "treatment_effect": -2}},
			  "outcome": {"name": "Y", "X_0": 12, "sigma_b": 0, "sigma_0": 0, "boundaries": [0, 15]},
			  "variables": {"Activity": {"distribution": "normal", "mean": 6000, "std": 0}},
			  "dependencies": {"Treatment_1 -> Y": 1, "Activity -> Y": -0.0005}
			}`
			flat, err := study.Load([]byte(doc))
			Expect(err).NotTo(HaveOccurred())

			opts.Design = study.Design{{Treatment: "Treatment_1"}, {Treatment: ""}}
			a, err := sim.Generate(context.Background(), flat, opts)
			Expect(err).NotTo(HaveOccurred())
			opts.Seed = 99
			b, err := sim.Generate(context.Background(), flat, opts)
			Expect(err).NotTo(HaveOccurred())

			for p := range a.Complete {
				for d := range a.Complete[p].Days {
					Expect(a.Complete[p].Days[d].Values["Activity"]).To(Equal(6000.0))
					Expect(a.Complete[p].Days[d].Values).To(Equal(b.Complete[p].Days[d].Values))
				}
			}
		})
	})

	Describe("failure modes", func() {
		It("rejects designs naming unknown treatments", func() {
			opts.Design = study.Design{{Treatment: "Treatment_9"}}
			_, err := sim.Generate(context.Background(), params, opts)
			var unknown *study.UnknownTreatmentError
			Expect(err).To(HaveOccurred())
			Expect(errors.As(err, &unknown)).To(BeTrue())
		})

		It("rejects non-positive patient counts", func() {
			opts.Patients = 0
			_, err := sim.Generate(context.Background(), params, opts)
			Expect(err).To(MatchError(ContainSubstring("patients must be positive")))
		})

		It("surfaces graph cycles before any data", func() {
			doc := `{
			  "outcome": {"name": "Y", "sigma_b": 1, "sigma_0": 1},
			  "variables": {
			    "A": {"distribution": "normal", "mean": 0, "std": 1},
			    "B": {"distribution": "normal", "mean": 0, "std": 1}
			  },
			  "dependencies": {"A -> B": 1, "B -> A": 1}
			}`
			cyclic, err := study.Load([]byte(doc))
			Expect(err).NotTo(HaveOccurred())

			opts.Design = study.Design{{Treatment: ""}}
			res, err := sim.Generate(context.Background(), cyclic, opts)
			Expect(res).To(BeNil())
			Expect(err).To(MatchError(study.ErrCyclicDependency))
		})
	})

	Describe("calendar dates", func() {
		It("stamps consecutive dates from the start date", func() {
			opts.StartDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			res, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())

			traj := res.Complete[0]
			Expect(traj.Days[0].Date).To(Equal(opts.StartDate))
			Expect(traj.Days[5].Date).To(Equal(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)))
		})

		It("leaves dates zero without a start date", func() {
			res, err := sim.Generate(context.Background(), params, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Complete[0].Days[0].Date.IsZero()).To(BeTrue())
		})
	})
})
