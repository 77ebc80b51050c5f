package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var apiBaseURL string

func init() {
	modelsCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "http://127.0.0.1:8080", "Base URL of a running inferserve instance")
	modelsCmd.AddCommand(modelsListCmd, modelsRmCmd)
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect and manage models registered with a running gateway",
}

// modelSummary mirrors httpapi's modelInfoDTO just enough for a table.
type modelSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Health  string `json:"health"`
}

var modelsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List models registered with a running gateway",
	RunE:    runModelsList,
}

func runModelsList(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(apiBaseURL + "/v1/models/")
	if err != nil {
		return fmt.Errorf("contact gateway at %s: %w", apiBaseURL, err)
	}
	defer resp.Body.Close()

	var out struct {
		Models []modelSummary `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(out.Models) == 0 {
		fmt.Println("No models registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tBACKEND\tSTATUS\tHEALTH")
	for _, m := range out.Models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Kind, m.Backend, m.Status, m.Health)
	}
	return w.Flush()
}

var modelsRmCmd = &cobra.Command{
	Use:   "rm MODEL_ID",
	Short: "Unregister a model from a running gateway",
	Args:  cobra.ExactArgs(1),
	RunE:  runModelsRm,
}

func runModelsRm(cmd *cobra.Command, args []string) error {
	id := args[0]

	req, err := http.NewRequest(http.MethodDelete, apiBaseURL+"/v1/models/"+id+"/", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact gateway at %s: %w", apiBaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unregister %s: gateway returned %s", id, resp.Status)
	}

	fmt.Printf("Unregistered %s\n", id)
	return nil
}
