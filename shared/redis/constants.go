// shared/redis/constants.go
package redis

import "fmt"

const (
	// TeamQueriesKeyPrefix is a sorted set of query events for one team, scored by unix millis:
	// team_queries:{teamID}
	TeamQueriesKeyPrefix = "team_queries:{%s}"
)

// TeamQueriesKey returns the query event key of teamID.
func TeamQueriesKey(teamID string) string {
	return fmt.Sprintf(TeamQueriesKeyPrefix, teamID)
}
