package guide

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleFragment = `    <div id="guideDiv">
      <ul>
        <li id="c12_channelLi">
          <span id="c12_channelDetailsSpan">12 - Alpha</span>
          <span class="fa fa-play" data-json='{"type":"live","hls":{"videoSource":"http://console/live/12/playlist.m3u8"},"rtmp":{"videoSource":"http://console/live/12/rtmp.m3u8"}}'></span>
        </li>
        <li id="c12_channelProgramsLi">
          <ul>
            <li id="c12_dateLi_0"><span class="fa fa-plus"></span><h2>October 16, 2026</h2></li>
            <li id="c12_dateProgramsLi_0">
              <ul>
                <li id="c12_programLi_1">
                  <input type="radio" name="c12_program_0" value='{"data":{"type":"recordings","attributes":{"channel_number":"12","end_date_time_in_utc":"2026-10-16 19:00:00","program_title":"Evening News","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-16 18:00:00"}}}'>
                  <label id="c12_label_1">18:00:00 - 19:00:00 | Evening News</label>
                  <span id="c12_descriptionSpan_1">Headlines of the day.</span>
                </li>
                <li id="c12_programLi_2">
                  <input type="radio" name="c12_program_0" value='{"data":{"type":"recordings","attributes":{"channel_number":"12","end_date_time_in_utc":"2026-10-16 21:00:00","program_title":"Late Movie","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-16 19:00:00"}}}'>
                  <label id="c12_label_2">19:00:00 - 21:00:00 | Late Movie</label>
                </li>
                <li id="c12_separatorLi_0"></li>
                <li id="c12_alertLi_0"></li>
                <li id="c12_buttonsLi_0"></li>
              </ul>
            </li>
            <li id="c12_dateSeparatorLi_0"></li>
            <li id="c12_dateLi_1"><h2>October 17, 2026</h2></li>
            <li id="c12_dateProgramsLi_1">
              <ul>
                <li id="c12_programLi_3">
                  <input type="radio" name="c12_program_1" value='{"data":{"type":"recordings","attributes":{"channel_number":"12","end_date_time_in_utc":"2026-10-17 07:00:00","program_title":"Morning Show","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-17 06:00:00"}}}'>
                  <label id="c12_label_3">06:00:00 - 07:00:00 | Morning Show</label>
                </li>
                <li id="c12_separatorLi_1"></li>
                <li id="c12_alertLi_1"></li>
                <li id="c12_buttonsLi_1"></li>
              </ul>
            </li>
            <li id="c12_dateSeparatorLi_1"></li>
          </ul>
        </li>
        <li id="c3_channelLi">
          <span id="c3_channelDetailsSpan">3 - Beta</span>
          <span class="fa fa-play" data-json='{"type":"live","hls":{"videoSource":"http://console/live/3/playlist.m3u8"}}'></span>
        </li>
        <li id="c3_channelProgramsLi">
          <ul>
            <li id="c3_dateLi_0"><h2>October 16, 2026</h2></li>
            <li id="c3_dateProgramsLi_0">
              <ul>
                <li id="c3_programLi_1">
                  <input type="radio" name="c3_program_0" value='{"data":{"type":"recordings","attributes":{"channel_number":"03","end_date_time_in_utc":"2026-10-16 20:00:00","program_title":"Cooking Live","provider":"SmoothStreams","start_date_time_in_utc":"2026-10-16 19:30:00"}}}'>
                  <label id="c3_label_1">19:30:00 - 20:00:00 | Cooking Live</label>
                </li>
                <li id="c3_separatorLi_0"></li>
                <li id="c3_alertLi_0"></li>
                <li id="c3_buttonsLi_0"></li>
              </ul>
            </li>
            <li id="c3_dateSeparatorLi_0"></li>
          </ul>
        </li>
        <li id="c101_channelLi">
          <span id="c101_channelDetailsSpan">101 - Gamma</span>
          <span class="fa fa-play" data-json='{"type":"live","hls":{"videoSource":"http://console/live/101/playlist.m3u8"}}'></span>
        </li>
      </ul>
      <li id="noMatchingProgramLi" style="display: none;">No matching programs</li>
    </div>
`

func newSampleModel(t *testing.T) *Model {
	t.Helper()

	m, err := ParseFragment(strings.NewReader(sampleFragment))
	require.NoError(t, err)

	return m
}

func newChannels(labels ...string) []*Channel {
	channels := make([]*Channel, 0, len(labels))

	for i, label := range labels {
		id := "c" + string(rune('a'+i))
		channels = append(channels, &Channel{
			ID:    id,
			Label: label,
			DateGroups: []*DateGroup{{
				ID:   DateNodeID(id, 0),
				Date: time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
				Programs: []*Program{{
					ID:        id + "_programLi_1",
					ChannelID: id,
					Label:     "10:00:00 - 11:00:00 | Show " + label,
				}},
			}},
		})
	}

	return channels
}

func labelsOf(channels []*Channel) []string {
	labels := make([]string, 0, len(channels))
	for _, ch := range channels {
		labels = append(labels, ch.Label)
	}

	return labels
}
