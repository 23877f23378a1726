// Command signal-gen posts synthetic failure signals at the verdict
// engine so local stacks have data to look at. It cycles through a
// fixed set of failure scenarios and periodically polls the
// consistency report.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

type signal struct {
	Timestamp     string            `json:"timestamp"`
	Service       string            `json:"service,omitempty"`
	ResourceType  string            `json:"resource_type,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty"`
	StatusReason  string            `json:"status_reason,omitempty"`
	DeployContext map[string]string `json:"deploy_context,omitempty"`
}

type classifyRequest struct {
	ExecutionID string   `json:"execution_id"`
	Signals     []signal `json:"signals"`
}

type verdict struct {
	ID              string `json:"id"`
	ErrorClass      string `json:"error_class"`
	ConfidenceScore int    `json:"confidence_score"`
	ProposedAction  string `json:"proposed_action"`
	FingerprintID   string `json:"fingerprint_id"`
}

type consistencyReport struct {
	TotalGroups        int `json:"total_groups"`
	ConsistencyPercent int `json:"consistency_percent"`
}

type scenario struct {
	name    string
	signals []signal
}

func scenarios() []scenario {
	return []scenario{
		{
			name: "acm-dns-pending",
			signals: []signal{{
				Service:      "acm",
				ResourceType: "AWS::CertificateManager::Certificate",
				ResourceID:   "cert-web",
				StatusReason: "Certificate is in PENDING_VALIDATION state: DNS validation records not found",
				DeployContext: map[string]string{
					"environment": "staging",
					"region":      "eu-west-1",
				},
			}},
		},
		{
			name: "iam-denied",
			signals: []signal{{
				Service:      "iam",
				ResourceType: "AWS::IAM::Role",
				ResourceID:   "deployer-role",
				StatusReason: "User: arn:aws:iam::123456789012:user/ci is not authorized to perform: iam:PassRole",
			}},
		},
		{
			name: "rate-throttled",
			signals: []signal{{
				Service:      "api",
				ResourceType: "AWS::Lambda::Function",
				ResourceID:   "ingest-fn",
				StatusReason: "Rate exceeded (Service: Lambda, Status Code: 429)",
			}},
		},
		{
			name: "bucket-conflict",
			signals: []signal{{
				Service:      "s3",
				ResourceType: "AWS::S3::Bucket",
				ResourceID:   "assets-bucket",
				StatusReason: "assets-bucket already exists (Service: Amazon S3, Status Code: 409, BucketAlreadyExists)",
			}},
		},
		{
			name: "unclassified-flake",
			signals: []signal{{
				ResourceType: "Custom::LegacyProvisioner",
				ResourceID:   "legacy-1",
				StatusReason: "provisioner exited with status 3",
			}},
		},
	}
}

func main() {
	var (
		target   string
		interval time.Duration
		count    int
	)
	flag.StringVar(&target, "target", "http://localhost:8080", "Base URL of the verdict engine")
	flag.DurationVar(&interval, "interval", 2*time.Second, "Delay between classify requests")
	flag.IntVar(&count, "count", 0, "Number of requests to send (0 = run forever)")
	flag.Parse()

	logger := log.New(log.Writer(), "signal-gen ", log.LstdFlags|log.Lmicroseconds)
	client := &http.Client{Timeout: 10 * time.Second}
	all := scenarios()

	logger.Printf("posting signals to %s every %s", target, interval)
	for i := 0; count == 0 || i < count; i++ {
		sc := all[i%len(all)]
		executionID := fmt.Sprintf("exec-%s-%04d", sc.name, i)
		if err := classify(client, target, executionID, sc, logger); err != nil {
			logger.Printf("classify %s: %v", executionID, err)
		}
		if i > 0 && i%10 == 0 {
			if err := pollConsistency(client, target, logger); err != nil {
				logger.Printf("consistency report: %v", err)
			}
		}
		time.Sleep(interval)
	}
}

func classify(client *http.Client, target, executionID string, sc scenario, logger *log.Logger) error {
	signals := make([]signal, len(sc.signals))
	copy(signals, sc.signals)
	for i := range signals {
		signals[i].Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(classifyRequest{ExecutionID: executionID, Signals: signals})
	if err != nil {
		return err
	}
	resp, err := client.Post(target+"/api/v1/verdicts", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err
	}
	logger.Printf("%s -> %s score=%d action=%s fingerprint=%s",
		executionID, v.ErrorClass, v.ConfidenceScore, v.ProposedAction, v.FingerprintID)
	return nil
}

func pollConsistency(client *http.Client, target string, logger *log.Logger) error {
	resp, err := client.Get(target + "/api/v1/reports/consistency")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var report consistencyReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return err
	}
	logger.Printf("consistency: %d%% across %d fingerprint groups",
		report.ConsistencyPercent, report.TotalGroups)
	return nil
}
