package world

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Tie is a directed social bond between two residents. Ties strengthen
// when the residents perceive each other and decay while they are apart.
type Tie struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Strength    float64   `json:"strength"` // 0-1
	Meetings    int       `json:"meetings"`
	LastMetTick int64     `json:"last_met_tick"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RelationGraph stores ties in Neo4j. It is an optional collaborator:
// the simulation runs fine without it.
type RelationGraph struct {
	driver    neo4j.DriverWithContext
	boost     float64 // strength gain per shared perception
	decayRate float64 // strength loss per decay sweep
	logger    *zap.Logger
}

// NewRelationGraph connects to Neo4j and returns a relation graph.
func NewRelationGraph(uri, user, password string, logger *zap.Logger) (*RelationGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &RelationGraph{
		driver:    driver,
		boost:     0.05,
		decayRate: 0.002,
		logger:    logger,
	}, nil
}

// Close shuts down the driver.
func (g *RelationGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// RecordMeeting strengthens the tie between two residents who saw each
// other during a tick, creating the tie on first contact.
func (g *RelationGraph) RecordMeeting(ctx context.Context, fromID, toID string, tick int64) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Resident {id: $from})
		 MERGE (b:Resident {id: $to})
		 MERGE (a)-[r:KNOWS]->(b)
		 ON CREATE SET r.strength = $boost, r.meetings = 1,
		               r.last_met_tick = $tick, r.updated_at = datetime()
		 ON MATCH SET r.strength = CASE
		       WHEN r.strength + $boost > 1.0 THEN 1.0
		       ELSE r.strength + $boost
		     END,
		     r.meetings = r.meetings + 1,
		     r.last_met_tick = $tick,
		     r.updated_at = datetime()`,
		map[string]interface{}{
			"from":  fromID,
			"to":    toID,
			"boost": g.boost,
			"tick":  tick,
		})
	if err != nil {
		return fmt.Errorf("record meeting: %w", err)
	}
	return nil
}

// DecaySweep weakens every tie by the decay rate, flooring at zero.
// Called periodically so bonds fade without contact.
func (g *RelationGraph) DecaySweep(ctx context.Context) (int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Resident)-[r:KNOWS]->(:Resident)
		 WHERE r.strength > 0
		 SET r.strength = CASE
		       WHEN r.strength - $decay < 0 THEN 0
		       ELSE r.strength - $decay
		     END
		 RETURN count(r) AS updated`,
		map[string]interface{}{"decay": g.decayRate})
	if err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}

	var updated int
	if result.Next(ctx) {
		if v, ok := result.Record().Get("updated"); ok {
			updated = int(v.(int64))
		}
	}
	g.logger.Debug("relation decay sweep", zap.Int("updated", updated))
	return updated, nil
}

// TiesOf returns all outgoing ties for a resident, strongest first.
func (g *RelationGraph) TiesOf(ctx context.Context, agentID string) ([]*Tie, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Resident {id: $id})-[r:KNOWS]->(b:Resident)
		 RETURN b.id AS other, r.strength AS strength,
		        r.meetings AS meetings, r.last_met_tick AS last_met
		 ORDER BY r.strength DESC`,
		map[string]interface{}{"id": agentID})
	if err != nil {
		return nil, fmt.Errorf("ties of %s: %w", agentID, err)
	}

	var ties []*Tie
	for result.Next(ctx) {
		rec := result.Record()
		tie := &Tie{FromAgentID: agentID}
		if v, ok := rec.Get("other"); ok && v != nil {
			tie.ToAgentID = v.(string)
		}
		if v, ok := rec.Get("strength"); ok && v != nil {
			tie.Strength = v.(float64)
		}
		if v, ok := rec.Get("meetings"); ok && v != nil {
			tie.Meetings = int(v.(int64))
		}
		if v, ok := rec.Get("last_met"); ok && v != nil {
			tie.LastMetTick = v.(int64)
		}
		ties = append(ties, tie)
	}
	return ties, nil
}
