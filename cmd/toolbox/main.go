// Toolbox is a local admin CLI for seeding and inspecting the notifier's
// Firestore data. It talks to the same database the server uses, so point
// it at an emulator when experimenting.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"pr-thread-notifier/internal/config"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/services"
)

const (
	minArgsRequired   = 2
	filePermReadWrite = 0600
)

func main() {
	if len(os.Args) < minArgsRequired {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "seed-org":
		handleSeedOrg()
	case "seed-integration":
		handleSeedIntegration()
	case "seed-mapping":
		handleSeedMapping()
	case "dump-firestore":
		handleDumpFirestore()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Toolbox - Utility commands for pr-thread-notifier")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  toolbox <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  seed-org           Create or update an organization record")
	fmt.Println("  seed-integration   Create a Slack integration for an organization")
	fmt.Println("  seed-mapping       Create a GitHub-to-Slack username mapping")
	fmt.Println("  dump-firestore     Export all documents from all collections as JSON")
	fmt.Println("  help               Show this help message")
	fmt.Println("")
}

func connect(ctx context.Context) (*config.Config, *firestore.Client) {
	cfg := config.Load()
	client, err := firestore.NewClientWithDatabase(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabaseID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create Firestore client: %v\n", err)
		os.Exit(1)
	}
	return cfg, client
}

func handleSeedOrg() {
	fs := flag.NewFlagSet("seed-org", flag.ExitOnError)
	orgID := fs.Int64("org-id", 0, "GitHub account ID (required)")
	name := fs.String("name", "", "GitHub account login (required)")
	installationID := fs.Int64("installation-id", 0, "GitHub App installation ID")
	_ = fs.Parse(os.Args[2:])

	if *orgID == 0 || *name == "" {
		fmt.Fprintln(os.Stderr, "seed-org requires --org-id and --name")
		os.Exit(1)
	}

	ctx := context.Background()
	_, client := connect(ctx)
	defer client.Close()

	svc := services.NewFirestoreService(client)
	err := svc.UpsertOrganization(ctx, &models.Organization{
		ID:                 *orgID,
		Name:               *name,
		InstallationID:     *installationID,
		SubscriptionStatus: models.SubscriptionStatusActive,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seed organization: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Organization %d (%s) saved\n", *orgID, *name)
}

func handleSeedIntegration() {
	fs := flag.NewFlagSet("seed-integration", flag.ExitOnError)
	orgID := fs.Int64("org-id", 0, "GitHub account ID (required)")
	teamID := fs.String("team-id", "", "Slack team ID (required)")
	teamName := fs.String("team-name", "", "Slack team name")
	token := fs.String("token", "", "Slack bot token (required)")
	channelID := fs.String("channel-id", "", "Slack channel ID (required)")
	channelName := fs.String("channel-name", "", "Slack channel name")
	_ = fs.Parse(os.Args[2:])

	integration := &models.SlackIntegration{
		ID:             uuid.New().String(),
		OrganizationID: *orgID,
		SlackTeamID:    *teamID,
		SlackTeamName:  *teamName,
		AccessToken:    *token,
		ChannelID:      *channelID,
		ChannelName:    *channelName,
	}
	if err := integration.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid integration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	_, client := connect(ctx)
	defer client.Close()

	svc := services.NewFirestoreService(client)
	if err := svc.CreateSlackIntegration(ctx, integration); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seed integration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Integration %s created for org %d (team %s, channel %s)\n",
		integration.ID, *orgID, *teamID, *channelID)
}

func handleSeedMapping() {
	fs := flag.NewFlagSet("seed-mapping", flag.ExitOnError)
	orgID := fs.Int64("org-id", 0, "GitHub account ID (required)")
	githubLogin := fs.String("github-login", "", "GitHub login (required)")
	slackUserID := fs.String("slack-user-id", "", "Slack user ID (required)")
	_ = fs.Parse(os.Args[2:])

	mapping := &models.UsernameMapping{
		OrganizationID: *orgID,
		GitHubLogin:    *githubLogin,
		SlackUserID:    *slackUserID,
		UpdatedAt:      time.Now(),
	}
	if err := mapping.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid mapping: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	_, client := connect(ctx)
	defer client.Close()

	svc := services.NewFirestoreService(client)
	if err := svc.UpsertUsernameMapping(ctx, mapping); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to seed mapping: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Mapping %s -> %s saved for org %d\n", *githubLogin, *slackUserID, *orgID)
}

func handleDumpFirestore() {
	fs := flag.NewFlagSet("dump-firestore", flag.ExitOnError)
	output := fs.String("output", "", "Write output to file instead of stdout")
	pretty := fs.Bool("pretty", false, "Pretty-print JSON output")
	_ = fs.Parse(os.Args[2:])

	ctx := context.Background()
	_, client := connect(ctx)
	defer client.Close()

	dump, err := dumpAllCollections(ctx, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to dump collections: %v\n", err)
		os.Exit(1)
	}

	var data []byte
	if *pretty {
		data, err = json.MarshalIndent(dump, "", "  ")
	} else {
		data, err = json.Marshal(dump)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal dump: %v\n", err)
		os.Exit(1)
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, filePermReadWrite); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *output, err)
			os.Exit(1)
		}
		fmt.Printf("Dump written to %s\n", *output)
		return
	}
	fmt.Println(string(data))
}

func dumpAllCollections(ctx context.Context, client *firestore.Client) (map[string]interface{}, error) {
	dump := make(map[string]interface{})

	collections := client.Collections(ctx)
	for {
		collection, err := collections.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate collections: %w", err)
		}

		docs, err := dumpCollection(ctx, collection)
		if err != nil {
			return nil, err
		}
		dump[collection.ID] = docs
	}
	return dump, nil
}

func dumpCollection(ctx context.Context, collection *firestore.CollectionRef) ([]map[string]interface{}, error) {
	var docs []map[string]interface{}

	iter := collection.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", collection.ID, err)
		}

		data := doc.Data()
		// Bot tokens never leave the database in dumps.
		if _, ok := data["access_token"]; ok {
			data["access_token"] = "[REDACTED]"
		}
		data["_id"] = doc.Ref.ID
		docs = append(docs, data)
	}
	return docs, nil
}
