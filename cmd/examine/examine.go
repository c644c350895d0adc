package examine

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dermascan/dermascan/internal/app"
	"github.com/dermascan/dermascan/internal/buildinfo"
	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/examination"
)

// Command creates the command that runs one examination on an image file.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var req app.ExamineRequest

	cmd := &cobra.Command{
		Use:   "examine [image]",
		Short: "Classify a lesion image and record the examination",
		Long: `Run a complete visit from the command line: select or register the
patient, send the image to the classifier and store the examination.

Examples:
  # Register a new patient
  dermascan examine lesion.jpg --doctor=sari@clinic.test --name="Budi Santoso" --birth-date=1980-02-01

  # Examine an existing patient and save a note
  dermascan examine lesion.jpg --doctor=sari@clinic.test --patient-id=12 --note="refer to dermatology"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.DoctorEmail == "" {
				return fmt.Errorf("--doctor is required")
			}
			if req.PatientID == 0 && req.Patient.FullName == "" {
				return fmt.Errorf("either --patient-id or --name is required")
			}
			req.ImagePath = args[0]

			a, err := app.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Examine(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().StringVar(&req.DoctorEmail, "doctor", "", "Email of the examining doctor")
	cmd.Flags().UintVar(&req.PatientID, "patient-id", 0, "Existing patient to examine")
	cmd.Flags().StringVar(&req.Patient.FullName, "name", "", "Full name of a new patient")
	cmd.Flags().StringVar(&req.Patient.BirthDate, "birth-date", "", "Birth date of a new patient (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.Patient.Gender, "gender", "", "Gender of a new patient")
	cmd.Flags().StringVar(&req.Patient.Complaint, "complaint", "", "Complaint for this visit")
	cmd.Flags().StringVar(&req.Note, "note", "", "Doctor's note saved with the result")

	return cmd
}

func printResult(out io.Writer, snap *examination.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if exam := snap.Examination; exam != nil {
		fmt.Fprintf(w, "Examination:\t%s\n", exam.IDExamination)
		fmt.Fprintf(w, "Patient ID:\t%d\n", exam.PatientID)
		fmt.Fprintf(w, "Prediction:\t%s\n", exam.ModelPrediction)
		fmt.Fprintf(w, "Confidence:\t%.2f%%\n", exam.ConfidenceScore)
		fmt.Fprintf(w, "Image:\t%s\n", exam.ImageURL)
	}
	if snap.Outcome != nil {
		fmt.Fprintf(w, "Outcome:\t%s\n", snap.Outcome)
	}
	for _, p := range snap.Probabilities {
		fmt.Fprintf(w, "  %s\t%.2f%%\n", p.Label, p.Probability)
	}
	if snap.Note != "" {
		fmt.Fprintf(w, "Note:\t%s\n", snap.Note)
	}
	return w.Flush()
}
