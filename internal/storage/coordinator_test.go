package storage

import (
	"testing"

	"github.com/ocentra/tabagentd/internal/eventbus"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	return New(eventbus.New(), "")
}

func chatNode() models.Node {
	return models.Node{
		Type:   models.NodeChat,
		Family: models.FamilyConversations,
		Tier:   models.TierActive,
		Chat:   &models.ChatFields{Title: "t"},
	}
}

func TestInsertAndGetNode(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.InsertNode(chatNode())
	require.Nil(t, err)

	view, err := c.GetNode(models.FamilyConversations, models.TierActive, id)
	require.Nil(t, err)
	require.Equal(t, id, view.ID)
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	c := newTestCoordinator()
	n1, _ := c.InsertNode(chatNode())
	n2, _ := c.InsertNode(chatNode())

	edgeID, err := c.InsertEdge(models.FamilyConversations, models.TierActive, models.Edge{
		FromNodeID: n1, ToNodeID: n2, EdgeType: "reply",
	})
	require.Nil(t, err)

	delErr := c.DeleteNode(models.FamilyConversations, models.TierActive, n1)
	require.Nil(t, delErr)

	_, getErr := c.GetNode(models.FamilyConversations, models.TierActive, n1)
	require.NotNil(t, getErr)

	require.Empty(t, c.OutgoingEdges(models.FamilyConversations, models.TierActive, n1))
	incoming := c.IncomingEdges(models.FamilyConversations, models.TierActive, n2)
	for _, e := range incoming {
		require.NotEqual(t, edgeID, e.ID)
	}
}

func TestInsertEdgeRequiresExistingEndpoints(t *testing.T) {
	c := newTestCoordinator()
	n1, _ := c.InsertNode(chatNode())

	_, err := c.InsertEdge(models.FamilyConversations, models.TierActive, models.Edge{
		FromNodeID: n1, ToNodeID: ids.NewNodeId(), EdgeType: "reply",
	})
	require.NotNil(t, err)
}

func TestInsertEmbeddingValidatesDimensions(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.InsertEmbedding(models.FamilyEmbeddings, models.TierActive, models.Embedding{
		Class:  models.EmbeddingFast,
		Vector: make([]float32, 10), // wrong length
	})
	require.NotNil(t, err)
}

func TestSearchNodesByType(t *testing.T) {
	c := newTestCoordinator()
	c.InsertNode(chatNode())
	c.InsertNode(models.Node{Type: models.NodeMessage, Family: models.FamilyConversations, Tier: models.TierActive, Message: &models.MessageFields{Role: "user", Content: "hi"}})

	found, err := c.SearchNodes(models.FamilyConversations, models.TierActive, NodeFilter{Type: models.NodeMessage})
	require.Nil(t, err)
	require.Len(t, found, 1)
}

func TestMigrateNodeMovesAtomically(t *testing.T) {
	c := newTestCoordinator()
	id, _ := c.InsertNode(chatNode())

	err := c.MigrateNode(models.FamilyConversations, models.TierActive, models.TierRecent, id)
	require.Nil(t, err)

	_, getErr := c.GetNode(models.FamilyConversations, models.TierActive, id)
	require.NotNil(t, getErr)

	view, getErr2 := c.GetNode(models.FamilyConversations, models.TierRecent, id)
	require.Nil(t, getErr2)
	require.Equal(t, id, view.ID)
}

func TestNodesAndEdgesSurviveCoordinatorRestart(t *testing.T) {
	dir := t.TempDir()

	c1 := New(eventbus.New(), dir)
	n1, err := c1.InsertNode(chatNode())
	require.Nil(t, err)
	n2, err := c1.InsertNode(chatNode())
	require.Nil(t, err)
	_, err = c1.InsertEdge(models.FamilyConversations, models.TierActive, models.Edge{
		FromNodeID: n1, ToNodeID: n2, EdgeType: "reply",
	})
	require.Nil(t, err)
	require.Nil(t, c1.Close())

	c2 := New(eventbus.New(), dir)
	view, getErr := c2.GetNode(models.FamilyConversations, models.TierActive, n1)
	require.Nil(t, getErr)
	require.Equal(t, n1, view.ID)

	outgoing := c2.OutgoingEdges(models.FamilyConversations, models.TierActive, n1)
	require.Len(t, outgoing, 1)
	require.Equal(t, n2, outgoing[0].ToNodeID)
	require.Nil(t, c2.Close())
}

func TestDeleteNodeSurvivesCoordinatorRestart(t *testing.T) {
	dir := t.TempDir()

	c1 := New(eventbus.New(), dir)
	id, err := c1.InsertNode(chatNode())
	require.Nil(t, err)
	require.Nil(t, c1.DeleteNode(models.FamilyConversations, models.TierActive, id))
	require.Nil(t, c1.Close())

	c2 := New(eventbus.New(), dir)
	_, getErr := c2.GetNode(models.FamilyConversations, models.TierActive, id)
	require.NotNil(t, getErr)
	require.Nil(t, c2.Close())
}
