package slab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageDescPrevPacking(t *testing.T) {
	var d pageDesc
	d.setPrev(nodeID(37), PageBig)
	require.Equal(t, nodeID(37), d.prevNode())
	require.Equal(t, PageBig, d.pageType())

	d.setPrev(nilNode, PageFree)
	require.Equal(t, nilNode, d.prevNode())
	require.Equal(t, PageFree, d.pageType())
}

func TestPageDescNext(t *testing.T) {
	var d pageDesc
	d.setNext(nodeID(9001))
	require.Equal(t, nodeID(9001), d.nextNode())
}

func TestPageDescShift(t *testing.T) {
	var d pageDesc
	d.slab = 1<<mapShift | 5
	require.Equal(t, uint(5), d.shift())
}
