// Package framework provides facades over the external systems a data
// platform test suite talks to: Apache NiFi, Databricks, GraphQL and REST
// services, FTP/FTPS/SFTP servers, S3 object stores, SQL databases and
// Selenium WebDriver sessions.
//
// Every facade shares the framework's logger, runtime configuration and
// report recorder, so checks made through any of them end up in one report.
//
// # Quick Start
//
// Create a framework for a project directory holding config.yml and run a
// few checks:
//
//	ctx := context.Background()
//	fw, err := framework.New(ctx, framework.WithProject(".", "team.yml"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fw.Cleanup()
//
//	// Check the services are up
//	prereqs, _ := fw.CheckPrerequisites(ctx,
//	    framework.NiFiEndpoint("https://nifi:8443"),
//	    framework.DatabricksEndpoint("https://adb-1.azuredatabricks.net"),
//	)
//	if !prereqs.AllMet {
//	    log.Fatal("Prerequisites not met: ", prereqs.String())
//	}
//
//	// Start a process group and compare its output with the source table
//	nf := fw.NiFi("https://nifi:8443")
//	nf.ChangeProcessGroupState(ctx, "pg-id", true)
//
//	conn, _ := fw.ConnectConfiguredDatabase("databases/warehouse", true)
//	src, _ := fw.Database().ExecuteStatement(ctx, conn, "SELECT * FROM orders", database.ReturnList)
//	tgt, _ := resultlist.FromFile("expected/orders.csv", resultlist.FileOptions{InferTypes: true})
//	fw.CompareResultLists("orders", src.List, tgt, resultlist.CompareOptions{Mode: resultlist.ModeHeader})
//
//	// Export the report
//	fw.ExportReport("nightly", report.FormatHTML)
//
// # Context Support
//
// Blocking operations take a context and stop when it is cancelled:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
//	defer cancel()
//
//	fw, err := framework.New(ctx)
//
// # Errors
//
// Operations return errors instead of panicking. Cross-cutting kinds are
// sentinels checked with errors.Is (ErrNotFound, ErrTimeout, ...). Checks
// visible to the tester are also recorded as report steps.
//
// # Package Structure
//
// The framework is organized into subpackages:
//
//   - config: Runtime tunables with environment variable support
//   - configutils: Project configuration, key paths and service descriptions
//   - concurrent: Bounded parallel helpers
//   - database: SQL, Cassandra and Hive/Spark over SSH
//   - databricks: Databricks REST API and SQL warehouses
//   - filetransfer: FTP, FTPS, SFTP and S3
//   - graphql: GraphQL queries, mutations and schema checks
//   - logging: slog logger with optional rotating log file
//   - nifi: Apache NiFi REST API
//   - parser: JSON and XML lookups
//   - report: Test steps and their JSON, CSV and HTML export
//   - restclient: HTTP request builder shared by the REST facades
//   - resultlist: Tabular results and their comparison
//   - retry: Retry logic with exponential backoff
//   - sshclient: SSH sessions and SCP
//   - wait: Polling-based waits
//   - webdriver: Selenium sessions and page actions
package framework
